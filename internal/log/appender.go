package log

import (
	"errors"
	"io"
	"sort"

	"firestige.xyz/sapcraft/internal/config"
)

// Outputs fans a log line out to the configured sinks. A failing sink does
// not stop the others.
type Outputs struct {
	names []string
	sinks map[string]io.Writer
	files []io.Closer
}

// NewOutputs opens the sinks enabled in cfg. console backs the console
// output; with nothing enabled lines are discarded.
func NewOutputs(cfg config.LogOutputs, console io.Writer) (*Outputs, error) {
	o := &Outputs{sinks: make(map[string]io.Writer)}
	if cfg.Console.Enabled && console != nil {
		o.Add("console", console)
	}
	if cfg.File.Enabled {
		f, err := newFileAppender(cfg.File)
		if err != nil {
			return nil, err
		}
		o.Add("file", f)
		o.files = append(o.files, f)
	}
	if len(o.names) == 0 {
		o.Add("discard", io.Discard)
	}
	return o, nil
}

func (o *Outputs) Write(p []byte) (n int, err error) {
	for _, name := range o.names {
		if _, e := o.sinks[name].Write(p); e != nil {
			err = e
		}
	}
	return len(p), err
}

// Add registers w under name, replacing an earlier sink of that name.
func (o *Outputs) Add(name string, w io.Writer) *Outputs {
	if _, ok := o.sinks[name]; !ok {
		o.names = append(o.names, name)
	}
	o.sinks[name] = w
	return o
}

// Names lists the sinks in sorted order.
func (o *Outputs) Names() []string {
	out := append([]string(nil), o.names...)
	sort.Strings(out)
	return out
}

// Close closes the log files opened by NewOutputs. The console is left
// open.
func (o *Outputs) Close() error {
	var errs []error
	for _, f := range o.files {
		errs = append(errs, f.Close())
	}
	return errors.Join(errs...)
}
