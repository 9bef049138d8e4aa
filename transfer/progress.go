package transfer

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/telebroad/fastftp/notify"
)

const (
	// transfers smaller than this report no milestones
	mediumTransfer = 10 << 20
	largeTransfer  = 1 << 30

	mediumStep = 10 << 20
	largeStep  = 500 << 20
)

// progress turns byte counts into periodic milestone messages.
// total < 0 means the final size is unknown (uploads).
type progress struct {
	notifier notify.Notifier
	dir      Direction
	name     string
	total    int64
	pos      int64
	next     int64
	reported bool
}

func newProgress(n notify.Notifier, dir Direction, name string, total, start int64) *progress {
	p := &progress{notifier: n, dir: dir, name: name, total: total, pos: start}
	p.next = p.nextMilestone()
	return p
}

func (p *progress) step() int64 {
	size := p.total
	if size < 0 {
		size = p.pos
	}
	switch {
	case size >= largeTransfer:
		return largeStep
	case size >= mediumTransfer || p.total < 0:
		return mediumStep
	}
	return 0
}

func (p *progress) nextMilestone() int64 {
	step := p.step()
	if step == 0 {
		return -1
	}
	next := (p.pos/step + 1) * step
	if p.total < 0 && next < mediumTransfer {
		next = mediumTransfer
	}
	return next
}

// Add records n more bytes and emits a message when a milestone is crossed.
func (p *progress) Add(n int64) {
	if n <= 0 {
		return
	}
	p.pos += n
	if p.next < 0 || p.pos < p.next {
		return
	}
	if p.total > 0 && p.pos >= p.total {
		// the completion message covers it
		p.next = -1
		return
	}
	p.reported = true
	p.notifier.Notify(p.message())
	p.next = p.nextMilestone()
}

// Finish emits the completion message for transfers large enough to have
// milestones.
func (p *progress) Finish() {
	size := p.total
	if size < 0 {
		size = p.pos
	}
	if size < mediumTransfer && !p.reported {
		return
	}
	verb := "Download"
	if p.dir == Upload {
		verb = "Upload"
	}
	p.notifier.Notify(fmt.Sprintf("%s complete: %s (%s)", verb, p.name, humanize.IBytes(uint64(size))))
}

func (p *progress) message() string {
	verb := "Downloading"
	if p.dir == Upload {
		verb = "Uploading"
	}
	if p.total > 0 {
		return fmt.Sprintf("%s %s: %s / %s (%d%%)", verb, p.name,
			humanize.IBytes(uint64(p.pos)), humanize.IBytes(uint64(p.total)), p.pos*100/p.total)
	}
	return fmt.Sprintf("%s %s: %s", verb, p.name, humanize.IBytes(uint64(p.pos)))
}
