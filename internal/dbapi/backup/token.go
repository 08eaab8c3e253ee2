package backup

import (
	"fmt"
	"sync"
	"time"

	"github.com/streamspace-dev/syncml-dbapi/internal/dbapi"
)

// tokenMinter hands out strictly increasing Tokens even when two mints land
// in the same wall-clock second, by appending a sequence suffix to the
// ISO-8601 base (dbapi.NewToken's doc comment points here). Lexical
// comparison is preserved: a suffixed token shares the unsuffixed token's
// prefix, so it still sorts after the plain timestamp it collided with and
// before any later distinct timestamp.
type tokenMinter struct {
	mu   sync.Mutex
	last dbapi.Token
	seq  int
}

func (m *tokenMinter) mint(now time.Time) dbapi.Token {
	m.mu.Lock()
	defer m.mu.Unlock()

	base := dbapi.NewToken(now)
	if base > m.last {
		m.last = base
		m.seq = 0
		return base
	}

	m.seq++
	t := dbapi.Token(fmt.Sprintf("%s.%04d", m.last, m.seq))
	m.last = t
	return t
}
