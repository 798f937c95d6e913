// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/jinterlante1206/reviewd/services/review/validate"
)

var (
	flagValidatePayload string
	flagValidateFile    string
)

// # Description
//
// Checks one submit_patch JSON payload against the wire schema and the
// path-safety predicate, without touching a repository. Useful for testing
// a transport integration or a hand-written payload in isolation.
//
// # Examples
//
//	reviewd validate --payload '{"op":"update","file":"a.go","body":"...","status":"completed"}'
//	reviewd validate --file patch.json
//	cat patch.json | reviewd validate --payload -
//
// # Exit Codes
//
//	0 - the payload is valid
//	2 - missing/conflicting flags, unreadable file, or stdin read error
//	3 - the payload failed schema or path-safety validation
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a submit_patch payload against the wire schema",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		raw, err := readValidatePayload()
		if err != nil {
			fmt.Fprintln(os.Stderr, "reviewd:", err)
			os.Exit(exitValidationError)
		}

		if _, err := validate.Validate(raw); err != nil {
			fmt.Fprintln(os.Stderr, "reviewd: invalid patch:", err)
			os.Exit(exitSafetyViolation)
		}
		fmt.Println("patch is valid")
		os.Exit(exitSuccess)
	},
}

func readValidatePayload() ([]byte, error) {
	havePayload := flagValidatePayload != ""
	haveFile := flagValidateFile != ""
	switch {
	case havePayload && haveFile:
		return nil, fmt.Errorf("--payload and --file are mutually exclusive")
	case havePayload && flagValidatePayload == "-":
		if isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd()) {
			return nil, fmt.Errorf("--payload - expects piped input, got an interactive terminal")
		}
		return io.ReadAll(os.Stdin)
	case havePayload:
		return []byte(flagValidatePayload), nil
	case haveFile:
		return os.ReadFile(flagValidateFile)
	default:
		return nil, fmt.Errorf("one of --payload or --file is required")
	}
}

func init() {
	validateCmd.Flags().StringVar(&flagValidatePayload, "payload", "", "inline JSON payload, or - to read from stdin")
	validateCmd.Flags().StringVar(&flagValidateFile, "file", "", "path to a JSON payload file")
}
