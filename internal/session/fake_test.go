package session

import (
	"context"
	"sync"

	"github.com/DeadLemon/reelsbot/internal/instagram"
	"github.com/DeadLemon/reelsbot/internal/sessionfile"
)

// fakeClient scripts the external service for tests. Probe errors are
// consumed one per Timeline call; login and media behavior are fixed funcs.
type fakeClient struct {
	mu       sync.Mutex
	username string
	state    sessionfile.State

	probeErrs []error
	loginErr  error
	mediaFn   func(ctx context.Context, pk int64) (*instagram.Media, error)

	loginCalls int
	probeCalls int
	mediaCalls int
	setStates  []sessionfile.State
}

var _ instagram.Client = (*fakeClient)(nil)

func newFakeClient(username string) *fakeClient {
	return &fakeClient{username: username}
}

func (f *fakeClient) Username() string { return f.username }

func (f *fakeClient) State() sessionfile.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeClient) SetState(st sessionfile.State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = st
	f.setStates = append(f.setStates, st)
}

func (f *fakeClient) Login(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loginCalls++
	if f.loginErr != nil {
		return f.loginErr
	}
	f.state.Authorization = "Bearer IGT:2:fresh"
	f.state.UserID = 1
	if f.state.UUIDs.IsZero() {
		f.state.UUIDs = sessionfile.UUIDs{UUID: "generated", DeviceID: "android-generated"}
	}
	return nil
}

func (f *fakeClient) Timeline(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probeCalls++
	if len(f.probeErrs) == 0 {
		return nil
	}
	err := f.probeErrs[0]
	f.probeErrs = f.probeErrs[1:]
	return err
}

func (f *fakeClient) MediaInfo(ctx context.Context, pk int64) (*instagram.Media, error) {
	f.mu.Lock()
	f.mediaCalls++
	fn := f.mediaFn
	f.mu.Unlock()
	if fn == nil {
		return &instagram.Media{PK: pk, Code: "FAKE", VideoURL: "http://x/v.mp4"}, nil
	}
	return fn(ctx, pk)
}

func (f *fakeClient) counts() (logins, probes, medias int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loginCalls, f.probeCalls, f.mediaCalls
}

func authErr() error {
	return &instagram.APIError{Kind: instagram.KindLoginRequired, Status: 401, Message: "login_required"}
}

func badPasswordErr() error {
	return &instagram.APIError{Kind: instagram.KindBadCredentials, Status: 400, Message: "bad_password"}
}

func challengeErr() error {
	return &instagram.APIError{Kind: instagram.KindChallenge, Status: 400, Message: "challenge_required"}
}

func serverErr() error {
	return &instagram.APIError{Kind: instagram.KindClient, Status: 500, Message: "please try again later"}
}

func notFoundErr() error {
	return &instagram.APIError{Kind: instagram.KindNotFound, Status: 404, Message: "media not found"}
}
