package ws

import (
	"fmt"

	"github.com/GriffinCanCode/termstack/internal/domain/history"
	"github.com/GriffinCanCode/termstack/internal/domain/palette"
	"github.com/GriffinCanCode/termstack/internal/domain/terminal"
	"github.com/GriffinCanCode/termstack/internal/shared/types"
	"github.com/GriffinCanCode/termstack/internal/shared/utils"
)

func (h *Handler) paletteEvent(p *palette.Palette, client Sender, env types.Envelope) error {
	switch env.Event {
	case types.EventState:
		h.reply(client, types.Outbound{Event: types.EventStackState, Data: p.RunningStates()})
		return nil

	case types.EventBigState:
		for _, s := range p.Sessions() {
			h.reply(client, types.Outbound{Event: types.EventTerminalState, Data: s.State()})
		}
		h.reply(client, types.Outbound{Event: types.EventSettings, Data: p.Record()})
		return nil

	case types.EventEnvironmentEdit:
		var in envEditPayload
		if err := decode(env, &in); err != nil {
			return err
		}
		return p.EditEnvironment(in.Order, in.Key, in.Value, in.PreviousKey)

	case types.EventEnvironmentMute:
		var in envKeyPayload
		if err := decode(env, &in); err != nil {
			return err
		}
		return p.MuteEnvironment(in.Order, in.Key)

	case types.EventEnvironmentList:
		var in envListPayload
		if err := decode(env, &in); err != nil {
			return err
		}
		if in.Order != nil {
			return p.FlushEnvironment(*in.Order, in.Pairs)
		}
		p.AddEnvironmentSet(in.Title, in.Pairs)
		return nil

	case types.EventEnvironmentDelete:
		var in envKeyPayload
		if err := decode(env, &in); err != nil {
			return err
		}
		if in.Key != "" {
			return p.RemoveEnvironmentKey(in.Order, in.Key)
		}
		return p.RemoveEnvironmentSet(in.Order)

	default:
		return fmt.Errorf("unknown palette event %q", env.Event)
	}
}

func (h *Handler) terminalEvent(p *palette.Palette, s *terminal.Session, client Sender, env types.Envelope) error {
	switch env.Event {
	case types.EventChangeCwd, types.EventChangeCommand, types.EventChangeShell, types.EventChangeTitle, types.EventInput:
		var value string
		if err := decode(env, &value); err != nil {
			return err
		}
		return h.textEvent(s, env.Event, value)

	case types.EventResize:
		var in resizePayload
		if err := decode(env, &in); err != nil {
			return err
		}
		s.Resize(in.Cols, in.Rows)
		return nil

	case types.EventCommandMetaSetting:
		var in metaSettingPayload
		if err := decode(env, &in); err != nil {
			return err
		}
		return s.SetMetaSetting(in.Key, in.Value)

	case types.EventChangeHealth:
		var in healthPayload
		if err := decode(env, &in); err != nil {
			return err
		}
		return s.SetHealth(in.Delay, in.HealthCheck)

	case types.EventEnvironmentList:
		var in envListPayload
		if err := decode(env, &in); err != nil {
			return err
		}
		if in.Order != nil {
			return s.FlushEnvironment(*in.Order, in.Pairs)
		}
		s.AddEnvironmentSet(in.Title, in.Pairs)
		return nil

	case types.EventEnvironmentListDelete:
		var in envKeyPayload
		if err := decode(env, &in); err != nil {
			return err
		}
		return s.RemoveEnvironmentSet(in.Order)

	case types.EventEnvironmentDelete:
		var in envKeyPayload
		if err := decode(env, &in); err != nil {
			return err
		}
		return s.RemoveEnvironmentKey(in.Order, in.Key)

	case types.EventEnvironmentEdit:
		var in envEditPayload
		if err := decode(env, &in); err != nil {
			return err
		}
		return s.EditEnvironment(in.Order, in.Key, in.Value, in.PreviousKey)

	case types.EventEnvironmentMute:
		var in envKeyPayload
		if err := decode(env, &in); err != nil {
			return err
		}
		return s.MuteEnvironment(in.Order, in.Key)

	case types.EventState:
		h.reply(client, types.Outbound{Event: types.EventTerminalState, Data: s.State()})
		return nil

	case types.EventRetrieveSettings:
		h.reply(client, types.Outbound{Event: types.EventSettings, Data: s.Record()})
		return nil

	case types.EventCopyToClipboard:
		return h.copyToClipboard(s, client, env)

	case types.EventHistory:
		var in historyPayload
		if err := decode(env, &in); err != nil {
			return err
		}
		kind := history.Kind(in.Kind)
		if !kind.Valid() {
			return fmt.Errorf("unknown history kind %q", in.Kind)
		}
		h.reply(client, types.Outbound{Event: types.EventHistory, Data: historyReply{
			Kind:   in.Kind,
			Values: h.history.Suggest(kind, in.Prefix, in.Limit),
		}})
		return nil

	default:
		return fmt.Errorf("unknown terminal event %q", env.Event)
	}
}

func (h *Handler) textEvent(s *terminal.Session, event, value string) error {
	switch event {
	case types.EventChangeCwd:
		return s.UpdateCwd(value)
	case types.EventChangeCommand:
		return s.UpdateCommand(value)
	case types.EventChangeShell:
		return s.ChangeShell(value)
	case types.EventChangeTitle:
		return s.ChangeTitle(value)
	default:
		if len(value) > utils.MaxInputSize {
			return fmt.Errorf("input exceeds %d bytes", utils.MaxInputSize)
		}
		s.Write(value)
		return nil
	}
}

// copyToClipboard answers with the text the client should place on its
// clipboard: the command by default, or the field named in data
func (h *Handler) copyToClipboard(s *terminal.Session, client Sender, env types.Envelope) error {
	field := "command"
	if len(env.Data) > 0 {
		if err := decode(env, &field); err != nil {
			return err
		}
	}

	record := s.Record()
	var text string
	switch field {
	case "command", "":
		text = record.Command.Cmd
	case "cwd":
		text = record.Command.Cwd
	case "title":
		text = record.Title
	default:
		return fmt.Errorf("cannot copy %q", field)
	}
	h.reply(client, types.Outbound{Event: types.EventClipboard, Data: clipboardReply{Text: text}})
	return nil
}
