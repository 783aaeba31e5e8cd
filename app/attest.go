package app

import (
	"fmt"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"

	tnclaim "github.com/trufnetwork/claimgate/extensions/tn_claim"
)

// authorityKeyEnv is read by sign when --key is not given.
const authorityKeyEnv = tnclaim.EnvPrefix + "AUTHORITY_KEY"

type attestationFlags struct {
	requester string
	chainID   uint64
	contract  string
}

func (f *attestationFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.requester, "requester", "", "requester address (0x...)")
	cmd.Flags().Uint64Var(&f.chainID, "chain-id", 0, "network chain id the attestation is valid on")
	cmd.Flags().StringVar(&f.contract, "contract", "", "contract address the attestation is bound to (0x...)")
	_ = cmd.MarkFlagRequired("requester")
	_ = cmd.MarkFlagRequired("chain-id")
	_ = cmd.MarkFlagRequired("contract")
}

type attestation struct {
	requester common.Address
	chainID   *big.Int
	contract  common.Address
}

func (f *attestationFlags) parse() (attestation, error) {
	requester, err := tnclaim.ParseAddress(f.requester)
	if err != nil {
		return attestation{}, fmt.Errorf("requester: %w", err)
	}
	contract, err := tnclaim.ParseAddress(f.contract)
	if err != nil {
		return attestation{}, fmt.Errorf("contract: %w", err)
	}
	if f.chainID == 0 {
		return attestation{}, fmt.Errorf("chain id must be positive")
	}
	return attestation{
		requester: requester,
		chainID:   new(big.Int).SetUint64(f.chainID),
		contract:  contract,
	}, nil
}

func newSignCmd() *cobra.Command {
	var (
		flags  attestationFlags
		keyHex string
	)

	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Sign a claim attestation with the authority key",
		Example: "  claimgate sign --requester 0x7099...79C8 --chain-id 31337 --contract 0x...ABCD\n" +
			"  (key from --key or " + authorityKeyEnv + ")",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := flags.parse()
			if err != nil {
				return err
			}
			if keyHex == "" {
				keyHex = os.Getenv(authorityKeyEnv)
			}
			if keyHex == "" {
				return fmt.Errorf("authority key required: pass --key or set %s", authorityKeyEnv)
			}

			signer, err := tnclaim.NewAuthoritySignerFromHex(keyHex)
			if err != nil {
				return err
			}
			signature, err := signer.SignAttestation(parsed.requester, parsed.chainID, parsed.contract)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), hexutil.Encode(signature))
			return err
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&keyHex, "key", "", "authority private key (hex)")
	return cmd
}

func newVerifyCmd() *cobra.Command {
	var (
		flags     attestationFlags
		authority string
		signature string
	)

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check an attestation offline against an authority",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := flags.parse()
			if err != nil {
				return err
			}
			authorityAddr, err := tnclaim.ParseAddress(authority)
			if err != nil {
				return fmt.Errorf("authority: %w", err)
			}
			sig, err := hexutil.Decode(signature)
			if err != nil {
				return fmt.Errorf("signature: %w", err)
			}

			if err := tnclaim.VerifyAttestation(authorityAddr, parsed.requester, parsed.chainID, parsed.contract, sig); err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), "valid")
			return err
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&authority, "authority", "", "trusted authority address (0x...)")
	cmd.Flags().StringVar(&signature, "signature", "", "attestation signature (0x...)")
	_ = cmd.MarkFlagRequired("authority")
	_ = cmd.MarkFlagRequired("signature")
	return cmd
}
