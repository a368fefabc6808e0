package analytics

import "context"

// Plugin hooks into the client. Embed NopPlugin to implement only the hooks you need.
type Plugin interface {
	// Name identifies the plugin in logs.
	Name() string
	// Setup is called once when the plugin is added.
	Setup(c *Client)
	// Process may modify the event before it is queued. Returning nil drops the event.
	Process(e Event) Event
	// Flush is called when the client is flushed.
	Flush()
	// Reset is called when the identity is reset.
	Reset()
	// Shutdown is called before the pipeline stops.
	Shutdown(ctx context.Context)
}

// NopPlugin implements every Plugin hook as a no-op.
type NopPlugin struct{}

func (NopPlugin) Name() string                 { return "nop" }
func (NopPlugin) Setup(*Client)                {}
func (NopPlugin) Process(e Event) Event        { return e }
func (NopPlugin) Flush()                       {}
func (NopPlugin) Reset()                       {}
func (NopPlugin) Shutdown(ctx context.Context) {}

var _ Plugin = NopPlugin{}
