package filesync

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/zbstctc/botool/internal/api"
	"github.com/zbstctc/botool/internal/sse"
)

// Streamer opens a server push stream. *api.Client satisfies it.
type Streamer interface {
	Stream(ctx context.Context, method, path string, query url.Values, body any) (io.ReadCloser, error)
}

// RemoteSource reads the server's file watch stream.
type RemoteSource struct {
	streamer Streamer
}

// NewRemoteSource creates a source backed by the server.
func NewRemoteSource(s Streamer) *RemoteSource {
	return &RemoteSource{streamer: s}
}

// Watch implements Source.
func (r *RemoteSource) Watch(ctx context.Context, onOpen func(), emit func(Record)) error {
	body, err := r.streamer.Stream(ctx, http.MethodGet, api.PathFilesWatch, nil, nil)
	if err != nil {
		return err
	}
	defer body.Close()
	onOpen()

	err = sse.Scan(body, func(payload []byte) error {
		var rec Record
		if err := json.Unmarshal(payload, &rec); err != nil {
			log.Debug().Err(err).Msg("Ignoring undecodable file record")
			return nil
		}
		emit(rec)
		return nil
	})
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		return fmt.Errorf("%w: %w", api.ErrStreamInterrupted, err)
	}
	return fmt.Errorf("file watch closed by server: %w", api.ErrStreamInterrupted)
}
