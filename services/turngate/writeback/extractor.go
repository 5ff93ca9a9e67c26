// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package writeback

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/AleutianAI/TurnGate/services/turngate/datatypes"
)

// Extraction is the outcome of scanning one finalized assistant text.
//
// Clean always holds the text with every envelope block removed; the
// client-visible text never depends on whether the payload parsed.
type Extraction struct {
	Clean    string
	Envelope *datatypes.WritebackEnvelope
	Err      error
}

// Extract scans the finalized text for writeback envelope blocks.
//
// # Description
//
// Every block between the open and close markers is removed from the
// text, markers included. The first block's payload is parsed and
// validated; a malformed payload is reported in Err, not as a function
// error, because stripping must happen either way. An open marker with no
// close strips to the end of the text.
//
// # Outputs
//
//   - Extraction: clean text, the parsed envelope (nil if absent or
//     malformed), and the parse failure if any.
func Extract(text string) Extraction {
	out := Extraction{}
	var clean strings.Builder
	var payloads []string

	rest := text
	for {
		open := strings.Index(rest, datatypes.WritebackOpenMarker)
		if open < 0 {
			clean.WriteString(rest)
			break
		}
		clean.WriteString(rest[:open])
		rest = rest[open+len(datatypes.WritebackOpenMarker):]

		closeIdx := strings.Index(rest, datatypes.WritebackCloseMarker)
		if closeIdx < 0 {
			// Unterminated block: strip to end, payload is malformed.
			payloads = append(payloads, rest)
			if out.Err == nil {
				out.Err = fmt.Errorf("unterminated writeback block")
			}
			rest = ""
			break
		}
		payloads = append(payloads, rest[:closeIdx])
		rest = rest[closeIdx+len(datatypes.WritebackCloseMarker):]
	}

	out.Clean = clean.String()
	if len(payloads) == 0 || out.Err != nil {
		return out
	}
	if len(payloads) > 1 {
		out.Err = fmt.Errorf("multiple writeback blocks in one turn")
		return out
	}

	var env datatypes.WritebackEnvelope
	if err := json.Unmarshal([]byte(strings.TrimSpace(payloads[0])), &env); err != nil {
		out.Err = fmt.Errorf("writeback payload is not valid JSON: %w", err)
		return out
	}
	if err := env.Validate(); err != nil {
		out.Err = fmt.Errorf("writeback payload failed validation: %w", err)
		return out
	}
	out.Envelope = &env
	return out
}
