package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/acronis/perfkit/pooldb"
)

// Score is the outcome of one bench run
type Score struct {
	Workers  int
	Seconds  float64
	Loops    uint64
	Failures uint64
	Rate     float64
}

// FormatRate formats the rate to 4 significant figures
func (s *Score) FormatRate() string {
	if s.Rate == 0.0 {
		return "0"
	}

	order := math.Floor(math.Log10(math.Abs(s.Rate))) + 1

	precision := 4 - int(order)
	if precision < 0 {
		precision = 0
	}

	return fmt.Sprintf(fmt.Sprintf("%%.%df", precision), s.Rate)
}

func (s *Score) print(w io.Writer) {
	fmt.Fprintf(w, "time: %f sec; threads: %d; loops: %d; failures: %d; rate: %s loops/sec;\n",
		s.Seconds, s.Workers, s.Loops, s.Failures, s.FormatRate())
}

type benchCommand struct {
	global *GlobalOpts
	BindOpts

	Workers  int  `short:"c" long:"concurrency" description:"number of sessions running the statement in parallel" default:"1"`
	Loops    int  `short:"l" long:"loops" description:"TOTAL (not per worker) number of executions, takes priority over duration" default:"0"`
	Duration int  `long:"duration" description:"run time in seconds when loops is 0" default:"5"`
	Write    bool `long:"write" description:"run the statement with Execute instead of FetchAll"`
	Master   bool `long:"master" description:"read from the master even when replicas are configured"`

	Args struct {
		SQL string `positional-arg-name:"sql"`
	} `positional-args:"yes" required:"yes"`
}

func (c *benchCommand) check() error {
	if c.Duration < 1 && c.Loops == 0 {
		return errors.New("duration should be > 0")
	}
	if c.Loops < 0 {
		return errors.New("loops should be >= 0")
	}
	if c.Workers < 1 {
		c.Workers = 1
	}
	return nil
}

// plannedLoops spreads the total over workers, the first ones take the remainder
func plannedLoops(total, workers int) []int {
	planned := make([]int, workers)
	if total == 0 {
		return planned
	}

	l, rest := total/workers, total%workers
	for i := range planned {
		planned[i] = l
		if i < rest {
			planned[i]++
		}
	}
	return planned
}

func (c *benchCommand) Execute([]string) error {
	if err := c.check(); err != nil {
		return err
	}

	bind, err := c.bind()
	if err != nil {
		return err
	}

	return c.global.withEnv(func(e *env) error {
		score := c.run(e.db, bind)
		score.print(e.out)
		return nil
	})
}

func (c *benchCommand) run(db *pooldb.Database, bind pooldb.Bind) Score {
	ctx := context.Background()
	if c.Loops == 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(c.Duration)*time.Second)
		defer cancel()
	}

	loops, failures := atomic.NewUint64(0), atomic.NewUint64(0)
	planned := plannedLoops(c.Loops, c.Workers)

	var wg sync.WaitGroup
	wg.Add(c.Workers)

	start := time.Now()
	for i := 0; i < c.Workers; i++ {
		go func(planned int) {
			defer wg.Done()

			s := db.Session(ctx)
			defer s.Close()

			for n := 0; c.Loops == 0 || n < planned; n++ {
				if ctx.Err() != nil {
					return
				}

				var err error
				if c.Write {
					_, err = s.Execute(c.Args.SQL, bind)
				} else {
					_, err = s.FetchAll(c.Args.SQL, bind, c.Master)
				}

				if err != nil {
					if ctx.Err() != nil {
						return
					}
					failures.Inc()
					continue
				}
				loops.Inc()
			}
		}(planned[i])
	}
	wg.Wait()

	seconds := time.Since(start).Seconds()

	return Score{
		Workers:  c.Workers,
		Seconds:  seconds,
		Loops:    loops.Load(),
		Failures: failures.Load(),
		Rate:     float64(loops.Load()) / seconds,
	}
}
