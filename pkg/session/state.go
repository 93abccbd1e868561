package session

import (
	"context"

	"github.com/looplab/fsm"
)

// State представляет состояние клиентской сессии
type State int

const (
	StateConnecting State = iota
	StateActive
	StateDisconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateDisconnecting:
		return "disconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// События машины состояний
const (
	eventActivate = "activate"
	eventLeave    = "leave"
	eventClose    = "close"
)

// newSessionFSM создает машину состояний жизненного цикла сессии.
// CLOSED достижимо из любого состояния (ошибка, таймаут, teardown),
// остальные переходы строго последовательны.
func newSessionFSM(onTransition func(from, to State)) *fsm.FSM {
	return fsm.NewFSM(
		StateConnecting.String(),
		fsm.Events{
			// Успешное рукопожатие
			{Name: eventActivate, Src: []string{StateConnecting.String()}, Dst: StateActive.String()},
			// Явный выход клиента
			{Name: eventLeave, Src: []string{StateActive.String()}, Dst: StateDisconnecting.String()},
			// Терминальный переход: ошибка, таймаут или завершение teardown
			{Name: eventClose, Src: []string{
				StateConnecting.String(),
				StateActive.String(),
				StateDisconnecting.String(),
			}, Dst: StateClosed.String()},
		},
		fsm.Callbacks{
			"after_event": func(ctx context.Context, e *fsm.Event) {
				if onTransition != nil {
					onTransition(stateFromString(e.Src), stateFromString(e.Dst))
				}
			},
		},
	)
}

func stateFromString(s string) State {
	switch s {
	case StateConnecting.String():
		return StateConnecting
	case StateActive.String():
		return StateActive
	case StateDisconnecting.String():
		return StateDisconnecting
	default:
		return StateClosed
	}
}
