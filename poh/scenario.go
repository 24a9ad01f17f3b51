// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package poh

// Reference vectors of the PoH core: one SHA-256 iteration of RefIn gives RefOut.
var (
	RefIn  = mustParseHash("01ba4719c80b6fe911b091a7c05124b64eeece964e09c058ef8f9805daca546b")
	RefOut = mustParseHash("9c827201b94019b42f85706bc49c59ff84b5604d11caafb90ab94856c4e1dd7a")
)

// Scenario is a named verification batch together with the byte order
// it must be run with.
type Scenario struct {
	Name  string
	Batch *Batch
	Order ByteOrder
}

// ScenarioA is a single slot holding the reference vector.
func ScenarioA() Scenario {
	return Scenario{
		Name:  "A",
		Batch: NewBatch(1, Slot{In: RefIn, Iters: 1, Want: RefOut}),
		Order: AsGiven,
	}
}

// ScenarioB is a batch of 16 identical slots whose input is all-zero but
// for its last byte, expected to hash to RefOut.
func ScenarioB() Scenario {
	var in Hash
	in[HashSize-1] = 0x01
	return Scenario{
		Name:  "B",
		Batch: NewBatch(16, Slot{In: in, Iters: 1, Want: RefOut}),
		Order: AsGiven,
	}
}

// ScenarioC is a batch of 18 reference slots, written and compared
// with reversed byte order.
func ScenarioC() Scenario {
	return Scenario{
		Name:  "C",
		Batch: NewBatch(18, Slot{In: RefIn, Iters: 1, Want: RefOut}),
		Order: Reversed,
	}
}

// Scenarios returns all the reference scenarios.
func Scenarios() []Scenario {
	return []Scenario{ScenarioA(), ScenarioB(), ScenarioC()}
}
