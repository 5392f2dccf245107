package main

import (
	"fmt"

	"github.com/ashureev/bouncer-ai/internal/allocation"
	"github.com/ashureev/bouncer-ai/internal/signature"
	"github.com/spf13/cobra"
)

func (c *cli) newAllocateCmd() *cobra.Command {
	var knowledge, vibe int
	var jitter float64
	cmd := &cobra.Command{
		Use:   "allocate",
		Short: "Preview the token allocation for a pair of scores",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p := allocation.DefaultParams()
			if err := p.Validate(); err != nil {
				return err
			}
			if jitter < 0 || jitter > 1 {
				return fmt.Errorf("--jitter must be within [0, 1], got %v", jitter)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d\n", p.Compute(knowledge, vibe, jitter))
			return nil
		},
	}
	cmd.Flags().IntVar(&knowledge, "knowledge", 8, "knowledge score (0-10)")
	cmd.Flags().IntVar(&vibe, "vibe", 8, "vibe score (0-10)")
	cmd.Flags().Float64Var(&jitter, "jitter", 0.5, "position in the jitter band, 0 is the low end")
	return cmd
}

// authFlags are the fields of an Authorization shared by sign and verify.
type authFlags struct {
	wallet     string
	contract   string
	nonce      uint64
	allocation int64
}

func (f *authFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.wallet, "wallet", "", "buyer wallet address")
	cmd.Flags().StringVar(&f.contract, "contract", "", "sale contract address")
	cmd.Flags().Uint64Var(&f.nonce, "nonce", 0, "authorization nonce")
	cmd.Flags().Int64Var(&f.allocation, "allocation", 0, "token allocation")
	_ = cmd.MarkFlagRequired("wallet")
	_ = cmd.MarkFlagRequired("contract")
}

func (f *authFlags) authorization() (signature.Authorization, error) {
	wallet, err := signature.ParseAddress(f.wallet)
	if err != nil {
		return signature.Authorization{}, fmt.Errorf("--wallet: %w", err)
	}
	contract, err := signature.ParseAddress(f.contract)
	if err != nil {
		return signature.Authorization{}, fmt.Errorf("--contract: %w", err)
	}
	return signature.Authorization{
		Wallet:     wallet,
		Contract:   contract,
		Nonce:      f.nonce,
		Allocation: f.allocation,
	}, nil
}

func (c *cli) newSignCmd() *cobra.Command {
	var af authFlags
	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Sign a purchase authorization (key from --key or BOUNCER_SIGNING_KEY)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key := c.v.GetString("signing-key")
			if key == "" {
				return fmt.Errorf("no signing key: set --key or BOUNCER_SIGNING_KEY")
			}
			signer, err := signature.NewSigner(key)
			if err != nil {
				return err
			}
			auth, err := af.authorization()
			if err != nil {
				return err
			}
			sig, err := signer.Sign(auth)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "signer:    %s\nsignature: %s\n", signer.Address().Hex(), sig)
			return nil
		},
	}
	af.register(cmd)
	cmd.Flags().String("key", "", "hex secp256k1 private key")
	_ = c.v.BindPFlag("signing-key", cmd.Flags().Lookup("key"))
	return cmd
}

func (c *cli) newVerifyCmd() *cobra.Command {
	var af authFlags
	var sig, signer string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check that a signature over an authorization came from signer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			auth, err := af.authorization()
			if err != nil {
				return err
			}
			recovered, err := signature.Recover(auth, sig)
			if err != nil {
				return err
			}
			if signer != "" {
				want, err := signature.ParseAddress(signer)
				if err != nil {
					return fmt.Errorf("--signer: %w", err)
				}
				if recovered != want {
					return fmt.Errorf("signature was made by %s, not %s", recovered.Hex(), want.Hex())
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "valid, signed by %s\n", recovered.Hex())
			return nil
		},
	}
	af.register(cmd)
	cmd.Flags().StringVar(&sig, "signature", "", "0x-prefixed signature")
	cmd.Flags().StringVar(&signer, "signer", "", "expected signer address")
	_ = cmd.MarkFlagRequired("signature")
	return cmd
}
