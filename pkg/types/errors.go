package types

import (
	"errors"
	"fmt"
)

// Stage names the pipeline step at which a resolution stopped.
type Stage string

const (
	StageFetchEpisode    Stage = "fetch_episode"
	StageFindIframe      Stage = "find_iframe"
	StageFetchIframe     Stage = "fetch_iframe"
	StageFindAPIPath     Stage = "find_api_path"
	StageTokenExchange   Stage = "token_exchange"
	StageRedirectResolve Stage = "redirect_resolve"
	StageTimeout         Stage = "timeout"
)

// Category groups failures by the action a user should take.
type Category string

const (
	// CategoryNotFound means the page was reachable but held no video.
	CategoryNotFound Category = "not_found"
	// CategoryNetwork means a transport problem; retrying or switching mirror may help.
	CategoryNetwork Category = "network"
)

// ResolutionError is the terminal failure of one resolution attempt.
type ResolutionError struct {
	Stage  Stage
	Detail string
	Err    error
}

func (e *ResolutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Stage, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Stage, e.Detail)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// NotFoundError is implemented by causes that can tell an origin which
// answered with nothing usable apart from one that could not be reached.
type NotFoundError interface {
	error
	NotFound() bool
}

// Category classifies the failure. Extraction stages are always NotFound
// and transport stages always Network. For the token stages the cause
// decides: a cause with no error, or one whose every branch reports
// NotFound, is NotFound.
func (e *ResolutionError) Category() Category {
	switch e.Stage {
	case StageFindIframe, StageFindAPIPath:
		return CategoryNotFound
	case StageFetchEpisode, StageFetchIframe, StageTimeout:
		return CategoryNetwork
	}
	if e.Err == nil || notFound(e.Err) {
		return CategoryNotFound
	}
	return CategoryNetwork
}

// notFound reports whether err means "nothing usable". Joined errors count
// only when all of them do, since any transport failure is worth a retry.
func notFound(err error) bool {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		errs := joined.Unwrap()
		if len(errs) == 0 {
			return false
		}
		for _, inner := range errs {
			if !notFound(inner) {
				return false
			}
		}
		return true
	}
	var nf NotFoundError
	return errors.As(err, &nf) && nf.NotFound()
}

// Fail builds a ResolutionError.
func Fail(stage Stage, detail string, err error) *ResolutionError {
	return &ResolutionError{Stage: stage, Detail: detail, Err: err}
}
