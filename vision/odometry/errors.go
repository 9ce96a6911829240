package odometry

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrSingularSystem is matched by every SingularSystemError.
var ErrSingularSystem = errors.New("normal equations are not positive definite")

// ErrNotPrepared is returned when Apply runs before PrepareData.
var ErrNotPrepared = errors.New("odometry data not prepared")

// ErrNotRecorded is returned when a source-on-target image is requested but none was recorded.
var ErrNotRecorded = errors.New("source-on-target images are not recorded")

// SingularSystemError reports a Gauss-Newton step that could not be solved. The transform is
// left at its value from before the failing iteration.
type SingularSystemError struct {
	Level     int
	Iteration int
	Inliers   int
	Reason    string
}

func (e *SingularSystemError) Error() string {
	return fmt.Sprintf("%v at level %d iteration %d (%d inliers): %s",
		ErrSingularSystem, e.Level, e.Iteration, e.Inliers, e.Reason)
}

// Unwrap lets errors.Is match ErrSingularSystem.
func (e *SingularSystemError) Unwrap() error {
	return ErrSingularSystem
}
