package resolver

import (
	"context"
	"errors"

	"wco-resolver-go/pkg/types"
)

// UserMessage renders a resolution failure as one human-readable line that
// tells a missing video apart from a connectivity problem.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	if IsSuperseded(err) {
		return "Request was replaced by a newer one."
	}

	var resErr *types.ResolutionError
	if errors.As(err, &resErr) {
		switch resErr.Category() {
		case types.CategoryNotFound:
			return "Could not find video source. The episode page may have changed or has no video."
		default:
			if resErr.Stage == types.StageTimeout {
				return "Network error: the site took too long to respond. Try again or switch mirror."
			}
			return "Network error: could not reach the site. Check your connection or switch mirror."
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return "Network error: the site took too long to respond. Try again or switch mirror."
	}
	return "Could not resolve video: " + err.Error()
}
