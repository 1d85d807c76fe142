package hostdriver

import "strings"

// Fake is a scripted Runner for unit tests: it records every invocation and
// returns the canned Result registered for the joined command string, or a
// Stub default when nothing matches.
type Fake struct {
	Calls   [][]string
	Stubs   map[string]Result
	Stub    Result
	ErrStub map[string]error
}

func NewFake() *Fake {
	return &Fake{Stubs: map[string]Result{}, ErrStub: map[string]error{}}
}

func (f *Fake) On(cmd []string, res Result) {
	f.Stubs[strings.Join(cmd, " ")] = res
}

func (f *Fake) OnError(cmd []string, err error) {
	f.ErrStub[strings.Join(cmd, " ")] = err
}

func (f *Fake) Run(cmd []string, check bool) (Result, error) {
	f.Calls = append(f.Calls, cmd)
	key := strings.Join(cmd, " ")
	if err, ok := f.ErrStub[key]; ok {
		return Result{}, err
	}
	if res, ok := f.Stubs[key]; ok {
		if check && res.ExitCode != 0 {
			return res, &Error{Cmd: cmd, Result: res}
		}
		return res, nil
	}
	if check && f.Stub.ExitCode != 0 {
		return f.Stub, &Error{Cmd: cmd, Result: f.Stub}
	}
	return f.Stub, nil
}

// Error is returned by Fake.Run for checked commands that were stubbed with
// a non-zero exit code.
type Error struct {
	Cmd    []string
	Result Result
}

func (e *Error) Error() string {
	return "fake command failed: " + strings.Join(e.Cmd, " ") + ": " + e.Result.Stderr
}
