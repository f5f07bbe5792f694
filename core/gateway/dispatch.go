package gateway

import (
	"context"
	"net/http"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/relabs-tech/schemagate/core"
	"github.com/relabs-tech/schemagate/core/apperr"
	"github.com/relabs-tech/schemagate/core/store"
)

// dispatch executes the record operation of the resolved resource
func (g *Gateway) dispatch(s *requestState) error {
	collection, err := g.registry.Collection(s.ctx, s.project.Name, s.module.Name)
	if err != nil {
		return err
	}

	switch s.method {
	case core.MethodGet:
		docs, err := collection.Find(s.ctx, nil)
		if err != nil {
			return err
		}
		return s.setResult(docs)

	case core.MethodGetByID:
		doc, err := collection.Get(s.ctx, s.id)
		if err == store.ErrNotFound {
			return apperr.NotFound("record %s not found", s.id)
		}
		if err != nil {
			return err
		}
		return s.setResult(doc)

	case core.MethodPost:
		doc, err := collection.Insert(s.ctx, s.body)
		if err != nil {
			return err
		}
		s.status = http.StatusCreated
		if g.legacyCreateStatus {
			s.status = http.StatusOK
		}
		if err := s.setResult(doc); err != nil {
			return err
		}
		g.notify(s, collection.Name(), core.OperationCreate, doc)
		return nil

	case core.MethodPut:
		modified, err := collection.Update(s.ctx, s.id, s.body)
		if err == store.ErrNotFound {
			return apperr.NotFound("record %s not found", s.id)
		}
		if err != nil {
			return err
		}
		if modified {
			if doc, err := collection.Get(s.ctx, s.id); err == nil {
				g.notify(s, collection.Name(), core.OperationUpdate, doc)
			} else {
				s.rlog.WithError(err).Errorln("Error 4741: cannot read updated record")
			}
		}
		return s.setResult(map[string]interface{}{"id": s.id.String(), "modified": modified})

	case core.MethodDelete:
		soft, _ := strconv.ParseBool(s.r.URL.Query().Get("soft"))
		var deleted bool
		if soft {
			deleted, err = collection.SoftDelete(s.ctx, s.id)
		} else {
			deleted, err = collection.Delete(s.ctx, s.id)
		}
		if err != nil {
			return err
		}
		if !deleted {
			return apperr.NotFound("record %s not found", s.id)
		}
		g.notify(s, collection.Name(), core.OperationDelete, map[string]interface{}{"id": s.id.String(), "soft": soft})
		return s.setResult(map[string]interface{}{"id": s.id.String(), "deleted": true})
	}
	return apperr.NotFound("method %s is not supported", s.method)
}

// setResult sets the result as plain JSON values
func (s *requestState) setResult(v interface{}) error {
	result, err := plain(v)
	if err != nil {
		return err
	}
	s.result = result
	return nil
}

// notify sends a change notification. Failures are logged.
func (g *Gateway) notify(s *requestState, collection string, operation core.Operation, v interface{}) {
	if g.notifier == nil {
		return
	}
	payload, err := json.Marshal(v)
	if err == nil {
		err = g.notifier.Notify(context.WithoutCancel(s.ctx), collection, operation, payload)
	}
	if err != nil {
		s.rlog.WithError(err).Errorf("Error 4751: cannot notify %s on %s", operation, collection)
	}
}
