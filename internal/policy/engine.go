package policy

import (
	"context"
	"errors"
	"fmt"

	"github.com/org/notaryadmin/internal/storage"
	"github.com/org/notaryadmin/pkg/models"
)

// Engine evaluates resource-scoped access using ownership facts from storage.
type Engine struct {
	store storage.ScopeStore
}

// NewEngine creates a new policy Engine backed by the given storage.
func NewEngine(store storage.ScopeStore) *Engine {
	return &Engine{store: store}
}

// Resolve loads the ownership facts of the resource kind/id. Missing
// records return storage.ErrNotFound.
func (e *Engine) Resolve(ctx context.Context, kind Kind, id int64) (Resource, error) {
	switch kind {
	case KindUser:
		s, err := e.store.GetUserScope(ctx, id)
		if err != nil {
			return nil, err
		}
		return UserResource{ID: s.ID, Role: s.Role, DistrictID: s.DistrictID}, nil
	case KindContract:
		s, err := e.store.GetContractScope(ctx, id)
		if err != nil {
			return nil, err
		}
		return ContractResource{ID: s.ID, NotaryID: s.NotaryID, DistrictID: s.DistrictID}, nil
	case KindTransaction:
		s, err := e.store.GetTransactionScope(ctx, id)
		if err != nil {
			return nil, err
		}
		return TransactionResource{ID: s.ID, NotaryID: s.NotaryID, DistrictID: s.DistrictID}, nil
	case KindDistrict:
		ok, err := e.store.DistrictExists(ctx, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, storage.ErrNotFound
		}
		return DistrictResource{ID: id}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownResourceType, kind)
}

// CanAccess reports whether p may reach the resource kind/id. Missing
// resources and unknown kinds are denied; an unknown kind also returns
// ErrUnknownResourceType.
func (e *Engine) CanAccess(ctx context.Context, p *models.Principal, kind Kind, id int64) (bool, error) {
	res, err := e.Resolve(ctx, kind, id)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	return CanAccessResource(p, res), nil
}
