// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package vecdb

import (
	"errors"
	"time"

	"github.com/go-lpc/warp/poh"
)

// Status is the outcome of a verification.
type Status string

const (
	StatusOK       Status = "ok"       // all slots matched
	StatusMismatch Status = "mismatch" // at least one slot differs
	StatusFault    Status = "fault"    // the run did not complete
)

// Result is the outcome of one scenario on one card.
type Result struct {
	Card       string
	Scenario   string
	Slots      int
	Mismatches int
	Status     Status
	Message    string
	Elapsed    time.Duration
	Date       time.Time
}

// NewResult builds the result of the scenario sc on card from the error
// returned by poh.Runner.Check.
func NewResult(card string, sc poh.Scenario, err error, elapsed time.Duration) Result {
	res := Result{
		Card:     card,
		Scenario: sc.Name,
		Slots:    sc.Batch.Len(),
		Status:   StatusOK,
		Elapsed:  elapsed,
		Date:     time.Now(),
	}
	if err == nil {
		return res
	}

	res.Message = err.Error()
	var verr *poh.VerifyError
	switch {
	case errors.As(err, &verr):
		res.Status = StatusMismatch
		res.Mismatches = len(verr.Mismatches)
	default:
		res.Status = StatusFault
	}
	return res
}
