package ingest

import (
	"context"
	"fmt"

	"github.com/EnricoMattana/IoT-SmartPlant/internal/infrastructure/mqtt"
	"github.com/EnricoMattana/IoT-SmartPlant/internal/plantcare"
)

// CommandQoS is used for every command. Commands are never retained.
const CommandQoS byte = 1

// JSONPublisher publishes a JSON-encoded value. *mqtt.Client satisfies it.
type JSONPublisher interface {
	PublishJSON(topic string, v any, qos byte) error
}

// CommandPublisher sends plantcare commands to smartplant/{plant_id}/commands.
type CommandPublisher struct {
	client JSONPublisher
}

// NewCommandPublisher wraps client.
func NewCommandPublisher(client JSONPublisher) *CommandPublisher {
	return &CommandPublisher{client: client}
}

// PublishCommand publishes cmd as {"cmd":"water","duration":ms} or
// {"cmd":"send_now"}.
func (p *CommandPublisher) PublishCommand(ctx context.Context, plantID string, cmd plantcare.Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := p.client.PublishJSON(mqtt.Topics{}.PlantCommands(plantID), cmd, CommandQoS); err != nil {
		return fmt.Errorf("publishing %s to %s: %w", cmd.Name, plantID, err)
	}
	return nil
}

var _ plantcare.CommandPublisher = (*CommandPublisher)(nil)
