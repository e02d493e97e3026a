// Package queue carries import jobs over RabbitMQ so uploads can be
// processed by a separate worker.
package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/JonMunkholm/crmport/internal/core"
)

// ErrInvalidJob is returned for messages that can never be processed.
var ErrInvalidJob = errors.New("invalid import job")

// ImportJob is one file to import. Content holds the raw upload bytes.
type ImportJob struct {
	ID       string `json:"id"`
	Entity   string `json:"entity"`
	FileName string `json:"file_name"`
	Actor    string `json:"actor,omitempty"`
	DryRun   bool   `json:"dry_run,omitempty"`
	Content  []byte `json:"content"`
}

// ImportJobResult is published once a job finishes, successfully or not.
type ImportJobResult struct {
	JobID      string                 `json:"job_id"`
	Entity     string                 `json:"entity"`
	FileName   string                 `json:"file_name"`
	Result     *core.ProcessingResult `json:"result,omitempty"`
	Error      string                 `json:"error,omitempty"`
	FinishedAt time.Time              `json:"finished_at"`
}

// DecodeJob parses and checks a message body.
func DecodeJob(body []byte) (ImportJob, error) {
	var job ImportJob
	if err := json.Unmarshal(body, &job); err != nil {
		return job, fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}
	switch {
	case job.ID == "":
		return job, fmt.Errorf("%w: missing id", ErrInvalidJob)
	case job.Entity == "":
		return job, fmt.Errorf("%w: missing entity", ErrInvalidJob)
	case len(job.Content) == 0:
		return job, fmt.Errorf("%w: empty content", ErrInvalidJob)
	}
	return job, nil
}
