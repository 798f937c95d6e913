// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

// Exit codes for the iterate subcommand (and reused where applicable by
// scan/validate).
const (
	exitSuccess                 = 0
	exitFatal                   = 1
	exitValidationError         = 2 // bad user input: flags, missing files, bad iteration count
	exitSafetyViolation         = 3 // the model produced output the safety predicate rejected
	exitTransportExhausted      = 4
	exitVerificationNeverPassed = 5
)
