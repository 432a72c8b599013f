package feed

import (
	"context"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"liveattend/internal/common"
)

// Postgres uses LISTEN/NOTIFY so that deployments backed by Postgres need no
// extra infrastructure for live updates.
type Postgres struct {
	connString string
	pool       *pgxpool.Pool
	prefix     string
}

// NewPostgres connects the publishing pool. Each subscription opens its own
// connection because LISTEN is connection scoped.
func NewPostgres(ctx context.Context, connString string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, common.Unavailable("feed.connect", err)
	}
	return &Postgres{connString: connString, pool: pool, prefix: "liveattend_"}, nil
}

func (p *Postgres) channel(topic string) string {
	return p.prefix + strings.ReplaceAll(topic, "-", "")
}

func (p *Postgres) Publish(ctx context.Context, topic string) error {
	if _, err := p.pool.Exec(ctx, "SELECT pg_notify($1, 'changed')", p.channel(topic)); err != nil {
		return common.Unavailable("feed.publish", err)
	}
	return nil
}

func (p *Postgres) Subscribe(ctx context.Context, topic string) (Listener, error) {
	conn, err := pgx.Connect(ctx, p.connString)
	if err != nil {
		return nil, common.Unavailable("feed.subscribe", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{p.channel(topic)}.Sanitize()); err != nil {
		_ = conn.Close(context.Background())
		return nil, common.Unavailable("feed.listen", err)
	}

	lctx, cancel := context.WithCancel(ctx)
	l := &pgListener{listener: newListener(), conn: conn, cancel: cancel}
	go l.run(lctx)
	return l, nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	if err := p.pool.Ping(ctx); err != nil {
		return common.Unavailable("feed.ping", err)
	}
	return nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

type pgListener struct {
	*listener
	conn   *pgx.Conn
	cancel context.CancelFunc
	once   sync.Once
}

func (l *pgListener) run(ctx context.Context) {
	var endErr error
	defer func() {
		_ = l.conn.Close(context.Background())
		l.finish(endErr)
	}()
	for {
		if _, err := l.conn.WaitForNotification(ctx); err != nil {
			if ctx.Err() == nil {
				endErr = common.Unavailable("feed.wait", err)
			}
			return
		}
		l.notify()
	}
}

func (l *pgListener) Close() error {
	l.once.Do(l.cancel)
	return nil
}
