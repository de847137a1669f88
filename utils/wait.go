package utils

import (
	"fmt"
	"time"
)

const defaultWaitFreq = 500 * time.Millisecond

// WaitFor polls [check] at a fixed cadence until it reports true or [timeout]
// elapses. A [check] error aborts the wait immediately; timeout expiry is a
// hard error, not a condition the caller is expected to recover from.
func WaitFor(check func() (bool, error), timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		ok, err := check()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("condition not met after %s", timeout)
		}
		time.Sleep(defaultWaitFreq)
	}
}
