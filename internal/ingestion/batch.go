package ingestion

import (
	"context"
	"fmt"

	"pulsestream/internal/apperr"
	"pulsestream/internal/model"
)

// ItemResult is the per-element outcome of a batch submission, parallel
// to the request list.
type ItemResult struct {
	Index     int
	Success   bool
	EventID   string
	Duplicate bool
	Err       error
}

// BatchResult aggregates a batch run.
type BatchResult struct {
	Items     []ItemResult
	Received  int
	Succeeded int
	Failed    int
}

// AllFailedValidation reports whether every element failed validation
// (kind invalid_event), which downgrades the whole request to a client
// error. Elements that failed for any other reason, such as rate
// limiting, make it false.
func (r *BatchResult) AllFailedValidation() bool {
	if r.Succeeded > 0 {
		return false
	}
	for _, item := range r.Items {
		if item.Err == nil || !apperr.IsKind(item.Err, apperr.KindInvalidEvent) {
			return false
		}
	}
	return len(r.Items) > 0
}

// IngestBatch processes up to maxBatchSize submissions independently.
// One element's failure never blocks another; each processed element
// counts once against the tenant window, validation rejects count not
// at all.
func (c *Coordinator) IngestBatch(ctx context.Context, tenant *model.Tenant, req *BatchRequest, maxBatchSize int) (*BatchResult, error) {
	if len(req.Events) == 0 {
		return nil, apperr.Invalid([]apperr.FieldError{
			{Path: "events", Message: "must contain at least one event"},
		})
	}
	if len(req.Events) > maxBatchSize {
		return nil, apperr.Invalid([]apperr.FieldError{
			{Path: "events", Message: fmt.Sprintf("exceeds maximum batch size of %d", maxBatchSize)},
		})
	}

	result := &BatchResult{Received: len(req.Events)}
	for i := range req.Events {
		item := ItemResult{Index: i}
		res, err := c.Ingest(ctx, tenant, &req.Events[i])
		if err != nil {
			item.Err = err
			result.Failed++
		} else {
			item.Success = true
			item.EventID = res.EventID
			item.Duplicate = res.Duplicate
			result.Succeeded++
		}
		result.Items = append(result.Items, item)
	}
	return result, nil
}
