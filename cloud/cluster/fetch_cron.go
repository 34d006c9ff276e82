package cluster

import (
	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
)

// Defines the way in which a full set of Nodes in a Cluster is retrieved
type Fetcher interface {
	Fetch() ([]Node, error)
}

type fetchCron struct {
	ticker clockwork.Ticker
	f      Fetcher
	out    func([]Node)
	stopCh chan struct{}
	doneCh chan struct{}
}

func startFetchCron(f Fetcher, ticker clockwork.Ticker, out func([]Node)) *fetchCron {
	c := &fetchCron{
		ticker: ticker,
		f:      f,
		out:    out,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	go c.loop()
	return c
}

func (c *fetchCron) loop() {
	defer close(c.doneCh)
	defer c.ticker.Stop()
	for {
		select {
		case <-c.ticker.Chan():
			nodes, err := c.f.Fetch()
			if err != nil {
				log.Errorf("Error fetching cluster members, keeping previous view: %v", err)
				continue
			}
			c.out(nodes)
		case <-c.stopCh:
			return
		}
	}
}

func (c *fetchCron) stop() {
	close(c.stopCh)
	<-c.doneCh
}
