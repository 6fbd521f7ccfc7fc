package main

import (
	"fmt"
	"os"
	"sync"
)

// progressBar is a minimal terminal progress reporter. The pool decorates its
// postfix with flood-wait notes while accounts are parked.
type progressBar struct {
	mu      sync.Mutex
	total   int
	done    int
	postfix string
}

func newProgressBar(total int) *progressBar {
	return &progressBar{total: total}
}

func (p *progressBar) SetPostfix(postfix string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.postfix = postfix
	p.render()
}

func (p *progressBar) Postfix() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.postfix
}

func (p *progressBar) Increment() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.done++
	p.render()
}

func (p *progressBar) render() {
	fmt.Fprintf(os.Stderr, "\r\033[K[%d/%d] %s", p.done, p.total, p.postfix)
}

// Finish moves the cursor off the progress line.
func (p *progressBar) Finish() {
	fmt.Fprintln(os.Stderr)
}
