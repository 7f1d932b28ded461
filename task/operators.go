package task

import (
	"github.com/nabbar/simple-mesh/cancel"
	liberr "github.com/nabbar/simple-mesh/errors"
)

// Pair is the result of And: the concatenation of both children's values.
type Pair[A any, B any] struct {
	First  A
	Second B
}

// And runs ta and tb concurrently (spec section 4.2, "A AND B": wait-all,
// fail-fast). If either fails, the other is cancelled via an internal
// cancellation source and a single failure is returned as is; if both
// fail, both errors become parents of one CodeSystem "multiple task
// failures" error, approximating the "multiple-exceptions" aggregate
// from spec section 7.
func And[A any, B any](parent cancel.Token, ta *Task[A], tb *Task[B]) *Task[Pair[A, B]] {
	return NewTask(func(_ cancel.Token) (Pair[A, B], error) {
		src := cancel.New()
		tok := src.Token()
		if parent.Valid() {
			parent.Register(func() { src.RequestCancellation() })
		}

		type aResult struct {
			v A
			e error
		}
		type bResult struct {
			v B
			e error
		}
		chA := make(chan aResult, 1)
		chB := make(chan bResult, 1)

		go func() { v, e := ta.Await(tok); chA <- aResult{v, e} }()
		go func() { v, e := tb.Await(tok); chB <- bResult{v, e} }()

		var ra aResult
		var rb bResult
		var gotA, gotB bool

		for !gotA || !gotB {
			select {
			case ra = <-chA:
				gotA = true
				if ra.e != nil {
					src.RequestCancellation()
				}
			case rb = <-chB:
				gotB = true
				if rb.e != nil {
					src.RequestCancellation()
				}
			}
		}

		if ra.e != nil && rb.e != nil {
			return Pair[A, B]{}, liberr.NewCode(liberr.CodeSystem, "multiple task failures", ra.e, rb.e)
		}
		if ra.e != nil {
			return Pair[A, B]{}, ra.e
		}
		if rb.e != nil {
			return Pair[A, B]{}, rb.e
		}
		return Pair[A, B]{First: ra.v, Second: rb.v}, nil
	})
}

// Either is the result of Or: exactly one of First/Second is meaningful,
// indicated by FirstWon.
type Either[A any, B any] struct {
	FirstWon bool
	First    A
	Second   B
}

// Or runs ta and tb concurrently (spec section 4.2, "A OR B": wait-any,
// succeed-fast). The first side to complete successfully cancels the
// other and becomes the result. If the first to complete failed, Or
// waits for the other; if both fail, both errors are reported.
//
// This is also how timeouts compose in this runtime (spec section 4.10):
// Or(rpcCall, sleepFor(d)) — the caller inspects Either.FirstWon to tell
// a real reply from a timeout.
func Or[A any, B any](parent cancel.Token, ta *Task[A], tb *Task[B]) *Task[Either[A, B]] {
	return NewTask(func(_ cancel.Token) (Either[A, B], error) {
		src := cancel.New()
		tok := src.Token()
		if parent.Valid() {
			parent.Register(func() { src.RequestCancellation() })
		}

		type event struct {
			fromA bool
			av    A
			ae    error
			bv    B
			be    error
		}
		errOf := func(e event) error {
			if e.fromA {
				return e.ae
			}
			return e.be
		}
		asResult := func(e event) Either[A, B] {
			if e.fromA {
				return Either[A, B]{FirstWon: true, First: e.av}
			}
			return Either[A, B]{FirstWon: false, Second: e.bv}
		}

		evs := make(chan event, 2)
		go func() { v, e := ta.Await(tok); evs <- event{fromA: true, av: v, ae: e} }()
		go func() { v, e := tb.Await(tok); evs <- event{fromA: false, bv: v, be: e} }()

		first := <-evs
		if errOf(first) == nil {
			src.RequestCancellation()
			return asResult(first), nil
		}

		second := <-evs
		firstErr, secondErr := errOf(first), errOf(second)
		if secondErr != nil {
			return Either[A, B]{}, liberr.NewCode(liberr.CodeSystem, "multiple task failures", firstErr, secondErr)
		}
		return asResult(second), nil
	})
}
