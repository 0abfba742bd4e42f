package kanban

import (
	"reflect"
	"testing"
)

func TestResolve(t *testing.T) {
	statuses := []string{"todo", "doing", "done"}
	base := Columns{
		"todo":  {"a", "b", "c"},
		"doing": {"d"},
		"done":  {},
	}

	tests := []struct {
		name   string
		active string
		over   string
		ok     bool
		want   Columns
		index  int
	}{
		{
			name: "cardInOtherColumnInsertsBefore", active: "a", over: "d", ok: true, index: 0,
			want: Columns{"todo": {"b", "c"}, "doing": {"a", "d"}, "done": {}},
		},
		{
			name: "emptyColumnAppends", active: "b", over: "done", ok: true, index: 0,
			want: Columns{"todo": {"a", "c"}, "doing": {"d"}, "done": {"b"}},
		},
		{
			name: "columnHeaderAppendsAtEnd", active: "d", over: "todo", ok: true, index: 3,
			want: Columns{"todo": {"a", "b", "c", "d"}, "doing": {}, "done": {}},
		},
		{
			name: "sameColumnMoveUp", active: "c", over: "a", ok: true, index: 0,
			want: Columns{"todo": {"c", "a", "b"}, "doing": {"d"}, "done": {}},
		},
		{
			name: "sameColumnMoveDownShiftsIndex", active: "a", over: "c", ok: true, index: 1,
			want: Columns{"todo": {"b", "a", "c"}, "doing": {"d"}, "done": {}},
		},
		{name: "ownColumnHeaderIsNoop", active: "b", over: "todo"},
		{name: "ownCardIsNoop", active: "b", over: "b"},
		{name: "nextCardLeavesOrderUnchanged", active: "a", over: "b"},
		{name: "unknownSource", active: "zzz", over: "done"},
		{name: "unknownTarget", active: "a", over: "nowhere"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := base.Clone()
			mv, ok := Resolve(base, statuses, tt.active, tt.over)
			if ok != tt.ok {
				t.Fatalf("Resolve(%s, %s) ok=%v, want %v", tt.active, tt.over, ok, tt.ok)
			}
			if !reflect.DeepEqual(base, before) {
				t.Fatalf("input columns mutated: %#v", base)
			}
			if !ok {
				return
			}
			if !reflect.DeepEqual(mv.Columns, tt.want) {
				t.Fatalf("unexpected columns: %#v", mv.Columns)
			}
			if mv.Index != tt.index {
				t.Fatalf("unexpected index %d, want %d", mv.Index, tt.index)
			}
			if mv.Columns[mv.To][mv.Index] != tt.active {
				t.Fatalf("index %d of %s does not hold %s", mv.Index, mv.To, tt.active)
			}
		})
	}
}

func TestResolveScenarioA(t *testing.T) {
	cols := Project(scenarioItems(), testStatuses)

	mv, ok := Resolve(cols, testStatuses, "1", "3")
	if !ok {
		t.Fatal("expected move to resolve")
	}
	if mv.From != "todo" || mv.To != "done" || mv.SameColumn() {
		t.Fatalf("unexpected move: %+v", mv)
	}
	if !reflect.DeepEqual(mv.Columns["done"], []string{"1", "3"}) || !reflect.DeepEqual(mv.Columns["todo"], []string{"2"}) {
		t.Fatalf("unexpected columns: %#v", mv.Columns)
	}
}
