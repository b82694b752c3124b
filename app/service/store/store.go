package store

import (
	"encoding/json"
	"hirewire/app/config"
	"hirewire/app/service/conversation"

	"github.com/samber/do"
	"github.com/samber/oops"
)

// New builds the checkpoint store selected by config.
func New(di *do.Injector) (conversation.Store, error) {
	cfg := do.MustInvoke[*config.Config](di)

	switch cfg.Store.Driver {
	case config.StoreDriverMemory:
		return NewMemory(), nil
	case config.StoreDriverFile:
		return NewFile(cfg.Store.Path)
	case config.StoreDriverSQLite:
		return NewSQLite(cfg.Store.Path)
	default:
		return nil, oops.In("store").
			With("driver", cfg.Store.Driver).
			Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

func encode(conv *conversation.Conversation) ([]byte, error) {
	data, err := json.Marshal(conv)
	if err != nil {
		return nil, oops.In("store").
			With("conversation_id", conv.ID).
			Wrapf(err, "failed to marshal conversation")
	}
	return data, nil
}

func decode(id string, data []byte) (*conversation.Conversation, error) {
	var conv conversation.Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return nil, oops.In("store").
			With("conversation_id", id).
			Wrapf(err, "failed to unmarshal conversation")
	}
	return &conv, nil
}

func notFound(id string) error {
	return oops.In("store").
		Code("not_found").
		With("conversation_id", id).
		Wrap(conversation.ErrNotFound)
}

func conflict(id string, expected, actual int64) error {
	return oops.In("store").
		Code("conflict").
		With("conversation_id", id, "expected_version", expected, "actual_version", actual).
		Wrap(conversation.ErrConflict)
}
