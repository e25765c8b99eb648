package pipeline

import "fmt"

// Stage names the pipeline step a registration failed in.
type Stage string

const (
	StageAcquire Stage = "acquire"
	StageExtract Stage = "extract"
	StageStore   Stage = "store"
)

// RegistrationError is the single error a failed registration reports.
type RegistrationError struct {
	Stage  Stage
	Source string
	Err    error
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("register %s: %s failed: %v", e.Source, e.Stage, e.Err)
}

func (e *RegistrationError) Unwrap() error {
	return e.Err
}
