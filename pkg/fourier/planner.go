package fourier

import "sync"

// Shape identifies the array shape a plan is built for.
type Shape struct {
	Rows, Cols int
}

// Planner caches transform plans keyed by array shape so that repeated
// transforms of same-shaped arrays never replan. Each plan handed out by Get
// is owned by the caller until it is returned with Put, which makes a single
// Planner safe to share between goroutines.
type Planner struct {
	mu    sync.Mutex
	pools map[Shape]*sync.Pool
}

// NewPlanner creates an empty planner.
func NewPlanner() *Planner {
	return &Planner{pools: make(map[Shape]*sync.Pool)}
}

// DefaultPlanner is the process-wide plan cache used by the convenience
// entry points of the registration package.
var DefaultPlanner = NewPlanner()

// Get returns a plan for rows x cols arrays, reusing a cached one if
// available.
func (pl *Planner) Get(rows, cols int) *Plan {
	return pl.pool(Shape{Rows: rows, Cols: cols}).Get().(*Plan)
}

// Put returns a plan to the cache. The caller must not use p afterwards.
func (pl *Planner) Put(p *Plan) {
	if p == nil {
		return
	}
	rows, cols := p.Shape()
	pl.pool(Shape{Rows: rows, Cols: cols}).Put(p)
}

func (pl *Planner) pool(s Shape) *sync.Pool {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	pool, ok := pl.pools[s]
	if !ok {
		pool = &sync.Pool{
			New: func() any { return NewPlan(s.Rows, s.Cols) },
		}
		pl.pools[s] = pool
	}
	return pool
}
