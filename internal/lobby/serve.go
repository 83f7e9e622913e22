package lobby

import (
	"context"

	"github.com/fzdarsky/netsrp/pkg/netbuf"
	"github.com/fzdarsky/netsrp/pkg/protocol"
)

// Receiver is a connection that also delivers inbound messages.
type Receiver interface {
	Conn
	Recv(ctx context.Context) (*netbuf.Incoming, error)
}

// Serve handles messages from conn until receiving fails or ctx is done.
// Errors returned by Handle are logged and do not stop the loop.
func (d *Dispatcher) Serve(ctx context.Context, conn Receiver) error {
	for {
		im, err := conn.Recv(ctx)
		if err != nil {
			return err
		}

		if _, err := d.Handle(ctx, conn, im); err != nil {
			d.logger.Warn("message not handled", map[string]any{
				"conn":  conn.ID(),
				"code":  string(protocol.CodeOf(err)),
				"error": err.Error(),
			})
		}
	}
}
