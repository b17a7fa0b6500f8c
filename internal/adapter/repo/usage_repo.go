package repo

import (
	"context"
	"encoding/json"

	"nero/internal/domain"
	"nero/internal/infra"
	"nero/internal/sqlinline"
)

// UsageRepositoryPG implements domain.UsageRecorder.
type UsageRepositoryPG struct {
	sql infra.SQLExecutor
}

func NewUsageRepository(sql infra.SQLExecutor) *UsageRepositoryPG {
	return &UsageRepositoryPG{sql: sql}
}

func (r *UsageRepositoryPG) Record(ctx context.Context, event domain.UsageEvent) error {
	var props []byte
	if len(event.Properties) > 0 {
		var err error
		if props, err = json.Marshal(event.Properties); err != nil {
			return err
		}
	}
	_, err := r.sql.Exec(ctx, sqlinline.QInsertUsageEvent, event.UserID, event.TaskID, event.EventType, event.Success, props)
	return err
}
