// Copyright 2026 The Nimbstor Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/nimbstor/nimbstor/cmd/nimbstor/cli"
	"github.com/nimbstor/nimbstor/lib/keyfile"
)

type sealPasswordParams struct {
	Identity   string   `flag:"identity,i" desc:"age identity file; generated when missing (required)"`
	Recipients []string `flag:"recipient" desc:"additional age recipient public key (repeatable)"`
	Output     string   `flag:"output,o" desc:"sealed password file to write (required)"`
}

func sealPasswordCommand() *cli.Command {
	var params sealPasswordParams
	return &cli.Command{
		Name:    "seal-password",
		Summary: "Store the repository password sealed with age",
		Description: `Encrypt the repository password to an age identity, and optionally to
further recipients, so it can be referenced from password.sealed_file
with password.identity_file naming the identity.

The password is read twice from the terminal, or once from the first
line of stdin when stdin is not a terminal.`,
		Usage: "nimbstor seal-password --identity FILE --output FILE [--recipient KEY]...",
		Flags: func() *pflag.FlagSet { return cli.FlagsFromParams("seal-password", &params) },
		Examples: []cli.Example{
			{
				Description: "Seal a password for unattended backups",
				Command:     "nimbstor seal-password -i ~/.config/nimbstor/identity -o ~/.config/nimbstor/password.age",
			},
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected arguments: %v", args)
			}
			return runSealPassword(&params)
		},
	}
}

func runSealPassword(params *sealPasswordParams) error {
	if params.Identity == "" || params.Output == "" {
		return errors.New("--identity and --output are required")
	}

	identity, err := keyfile.ReadIdentity(params.Identity)
	if errors.Is(err, fs.ErrNotExist) {
		identity, err = keyfile.WriteIdentity(params.Identity)
		if err == nil {
			fmt.Fprintf(stderr, "generated identity %s\n", params.Identity)
		}
	}
	if err != nil {
		return err
	}

	password, err := readNewPassword()
	if err != nil {
		return err
	}
	defer clear(password)

	recipients := append([]string{identity.PublicKey}, params.Recipients...)
	if err := keyfile.SealFile(params.Output, password, recipients); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "sealed %s for:\n", params.Output)
	for _, recipient := range recipients {
		fmt.Fprintf(stdout, "  %s\n", recipient)
	}
	return nil
}

// readNewPassword asks twice on a terminal, otherwise takes the first
// line of stdin.
func readNewPassword() ([]byte, error) {
	if file, ok := stdin.(*os.File); ok && term.IsTerminal(int(file.Fd())) {
		first, err := promptPassword("New repository password: ")
		if err != nil {
			return nil, err
		}
		second, err := promptPassword("Repeat password: ")
		if err != nil {
			clear(first)
			return nil, err
		}
		defer clear(second)
		if !bytes.Equal(first, second) {
			clear(first)
			return nil, errors.New("passwords do not match")
		}
		return first, nil
	}

	scanner := bufio.NewScanner(stdin)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("reading password from stdin: %w", err)
		}
		return nil, errors.New("no password on stdin")
	}
	password := bytes.Clone(bytes.TrimRight(scanner.Bytes(), "\r"))
	if len(password) == 0 {
		return nil, errors.New("empty password")
	}
	return password, nil
}
