package config

import (
	"context"
	"log/slog"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Prompts serves the current system and autonomous prompt texts. Operator
// prompt files are re-read when fsnotify reports a change, so edits take
// effect on the agent's next turn without a restart.
type Prompts struct {
	systemPath     string
	autonomousPath string
	vars           map[string]string
	log            *slog.Logger

	defaultSystem     string
	defaultAutonomous string

	mu         sync.RWMutex
	system     string
	autonomous string
}

// NewPrompts loads the prompt files once. defaultSystem/defaultAutonomous
// are used when the corresponding path is empty or unreadable.
func NewPrompts(cfg *Config, defaultSystem, defaultAutonomous string, log *slog.Logger) *Prompts {
	if log == nil {
		log = slog.Default()
	}
	p := &Prompts{
		systemPath:        cfg.SystemPromptPath,
		autonomousPath:    cfg.AutonomousPromptPath,
		vars:              cfg.TemplateVars(),
		log:               log,
		defaultSystem:     defaultSystem,
		defaultAutonomous: defaultAutonomous,
	}
	p.reload()
	return p
}

func (p *Prompts) SystemPrompt() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.system
}

func (p *Prompts) AutonomousPrompt() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.autonomous
}

// Watch re-reads the prompt files whenever they change. Blocks until ctx is
// cancelled; callers run it on its own goroutine.
func (p *Prompts) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	watched := 0
	for _, path := range []string{p.systemPath, p.autonomousPath} {
		if path == "" {
			continue
		}
		if err := watcher.Add(path); err != nil {
			p.log.Warn("cannot watch prompt file", "path", path, "error", err)
			continue
		}
		watched++
	}
	if watched == 0 {
		<-ctx.Done()
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				p.log.Info("prompt file changed, reloading", "path", ev.Name)
				p.reload()
				// Editors replacing the file drop the watch; re-add.
				_ = watcher.Add(ev.Name)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			p.log.Warn("prompt watcher error", "error", err)
		}
	}
}

func (p *Prompts) reload() {
	system := p.render(p.systemPath, p.defaultSystem)
	autonomous := p.render(p.autonomousPath, p.defaultAutonomous)

	p.mu.Lock()
	p.system = system
	p.autonomous = autonomous
	p.mu.Unlock()
}

func (p *Prompts) render(path, fallback string) string {
	if path == "" {
		return RenderTemplate(fallback, p.vars)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		p.log.Warn("read prompt file, using default", "path", path, "error", err)
		return RenderTemplate(fallback, p.vars)
	}
	return RenderTemplate(string(data), p.vars)
}
