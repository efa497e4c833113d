package service

import (
	"context"
	"strings"

	"crewcommand_backend/internal/sync/entity"
	"crewcommand_backend/internal/sync/repository"
	"crewcommand_backend/internal/sync/transport"
	"crewcommand_backend/platform/apperr"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Pull returns the next page of the tenant's change feed.
func (s *Service) Pull(ctx context.Context, actor Actor, req transport.PullRequest) (transport.PullResponse, error) {
	limit := transport.DefaultPullLimit
	if req.Limit != nil {
		limit = *req.Limit
	}
	if limit < 1 || limit > transport.MaxPullLimit {
		return transport.PullResponse{}, apperr.Validation("limit: must be between 1 and 500")
	}

	if req.DeviceID != "" {
		deviceID, err := uuid.Parse(req.DeviceID)
		if err != nil {
			return transport.PullResponse{}, apperr.Validation("device_id: must be a valid UUID")
		}
		if err := s.requireDevice(ctx, actor.TenantID, deviceID); err != nil {
			return transport.PullResponse{}, err
		}
	}

	cursor, err := DecodeCursor(req.Cursor)
	if err != nil {
		return transport.PullResponse{}, err
	}

	pages := make([][]repository.FeedRow, len(entity.FeedKinds))
	g, gctx := errgroup.WithContext(ctx)
	for i, kind := range entity.FeedKinds {
		i, kind := i, kind
		g.Go(func() error {
			rows, err := s.repo.FeedPage(gctx, kind, actor.TenantID, cursor, limit)
			if err != nil {
				return err
			}
			pages[i] = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return transport.PullResponse{}, err
	}

	rows := mergeFeed(pages, limit)

	resp := transport.PullResponse{
		OrganizationID: actor.TenantID.String(),
		Limit:          limit,
		Changes:        make([]transport.Change, 0, len(rows)),
		HasMore:        len(rows) == limit,
	}
	if requested := strings.TrimSpace(req.Cursor); requested != "" {
		resp.RequestedCursor = &requested
		resp.NextCursor = &requested
	}

	for _, row := range rows {
		resp.Changes = append(resp.Changes, transport.Change{
			EntityType: row.EntityType,
			EntityID:   row.EntityID.String(),
			Data:       row.Data,
			Cursor:     EncodeCursor(row.CursorAt, row.EntityType, row.EntityID),
		})
	}
	if n := len(resp.Changes); n > 0 {
		next := resp.Changes[n-1].Cursor
		resp.NextCursor = &next
	}

	s.metrics.RecordFeedRows(len(rows))
	return resp, nil
}
