// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jinterlante1206/reviewd/services/review/transport"
)

// # Description
//
// Prints the JSON Schema the submit_patch tool argument must satisfy, the
// same schema the transport hands the model on every call. Lets an
// integrator test a payload against the real contract without running a
// full iteration.
//
// # Examples
//
//	reviewd schema
var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the submit_patch tool's JSON Schema",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		out, err := json.MarshalIndent(transport.PatchSchema(), "", "  ")
		if err != nil {
			fmt.Fprintln(os.Stderr, "reviewd: marshaling schema:", err)
			os.Exit(exitFatal)
		}
		fmt.Println(string(out))
	},
}
