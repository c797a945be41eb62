package cascade_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/synapsehub/hub/internal/domain/cascade"
)

type fakeClock struct{ now time.Time }

func (f *fakeClock) Now() time.Time { return f.now }

func TestEngine_RegisterContract_FirstRegistrationEmitsEndpointAdded(t *testing.T) {
	e := cascade.NewEngine(&fakeClock{now: time.Now()})

	var events []cascade.Event
	e.Subscribe(func(evt cascade.Event) { events = append(events, evt) })

	e.RegisterContract(cascade.Contract{
		Method:        "GET",
		Endpoint:      "/users",
		RequestFields: map[string]any{},
	})

	require.Len(t, events, 1)
	require.Equal(t, cascade.EventEndpointAdded, events[0].Type)
}

func TestEngine_RegisterContract_ChangeMarksBindingsOutdated(t *testing.T) {
	e := cascade.NewEngine(&fakeClock{now: time.Now()})
	e.RegisterContract(cascade.Contract{
		Method:         "GET",
		Endpoint:       "/users",
		RequestFields:  map[string]any{},
		ResponseFields: map[string]any{"id": "string"},
	})
	e.RegisterBinding(cascade.Binding{ComponentID: "UserList", Endpoint: "GET:/users"})

	e.RegisterContract(cascade.Contract{
		Method:         "GET",
		Endpoint:       "/users",
		RequestFields:  map[string]any{"page": "int"},
		ResponseFields: map[string]any{"id": "string", "name": "string"},
	})

	outdated := e.GetOutdatedComponents()
	require.Len(t, outdated, 1)
	require.Equal(t, "UserList", outdated[0].ComponentID)

	require.True(t, e.MarkBindingSynced("UserList"))
	require.Empty(t, e.GetOutdatedComponents())
}

func TestEngine_RegisterContract_NoChangeIsNoOp(t *testing.T) {
	e := cascade.NewEngine(&fakeClock{now: time.Now()})
	contract := cascade.Contract{Method: "GET", Endpoint: "/users", RequestFields: map[string]any{}}
	e.RegisterContract(contract)

	var events []cascade.Event
	e.Subscribe(func(evt cascade.Event) { events = append(events, evt) })
	e.RegisterContract(contract)

	require.Empty(t, events)
}

func TestEngine_ProposeChange_NonOverlappingBothAccepted(t *testing.T) {
	e := cascade.NewEngine(&fakeClock{now: time.Now()})
	_, conflict := e.ProposeChange("main.go", cascade.ChangeRange{Agent: "a1", Start: 0, End: 5, NewText: "hello"})
	require.False(t, conflict)

	_, conflict = e.ProposeChange("main.go", cascade.ChangeRange{Agent: "a2", Start: 10, End: 15, NewText: "world"})
	require.False(t, conflict)
}

func TestEngine_ProposeChange_ContainmentOuterWins(t *testing.T) {
	e := cascade.NewEngine(&fakeClock{now: time.Now()})
	e.ProposeChange("main.go", cascade.ChangeRange{Agent: "a1", Start: 0, End: 10, NewText: "outer-text"})

	merged, conflict := e.ProposeChange("main.go", cascade.ChangeRange{Agent: "a2", Start: 2, End: 5, NewText: "in"})
	require.True(t, conflict)
	require.Equal(t, "a1", merged.Agent)
	require.Equal(t, "outer-text", merged.NewText)
}

func TestEngine_ProposeChange_AdjacentConcatenatesInStartOrder(t *testing.T) {
	e := cascade.NewEngine(&fakeClock{now: time.Now()})
	e.ProposeChange("main.go", cascade.ChangeRange{Agent: "a1", Start: 5, End: 10, NewText: "second"})

	merged, conflict := e.ProposeChange("main.go", cascade.ChangeRange{Agent: "a2", Start: 0, End: 5, NewText: "first"})
	require.True(t, conflict)
	require.Equal(t, "firstsecond", merged.NewText)
	require.Equal(t, 0, merged.Start)
	require.Equal(t, 10, merged.End)
}

func TestEngine_ProposeChange_SameAgentOverlapNotMerged(t *testing.T) {
	e := cascade.NewEngine(&fakeClock{now: time.Now()})
	e.ProposeChange("main.go", cascade.ChangeRange{Agent: "a1", Start: 0, End: 10, NewText: "first"})

	_, conflict := e.ProposeChange("main.go", cascade.ChangeRange{Agent: "a1", Start: 5, End: 8, NewText: "second"})
	require.False(t, conflict)
}

func TestEngine_EventLogBounded(t *testing.T) {
	e := cascade.NewEngine(&fakeClock{now: time.Now()})
	for i := 0; i < cascade.EventRingSize+10; i++ {
		e.RegisterContract(cascade.Contract{
			Method:        "GET",
			Endpoint:      string(rune('a' + i%20)),
			RequestFields: map[string]any{"n": i},
		})
	}
	require.LessOrEqual(t, len(e.Log()), cascade.EventRingSize)
}
