package rules

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/linnemanlabs/caseinv/internal/document/memdoc"
	"github.com/linnemanlabs/caseinv/internal/enrich"
	"github.com/linnemanlabs/caseinv/internal/page"
	"github.com/linnemanlabs/go-core/log"
)

func testCtx() context.Context {
	return log.WithContext(context.Background(), log.Nop())
}

type fakeEnricher struct {
	mu    sync.Mutex
	info  enrich.Info
	calls []string
}

func (f *fakeEnricher) Lookup(_ context.Context, address string) enrich.Info {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, address)
	return f.info
}

// alertPage scripts a case page for clientID with one row per cells map.
func alertPage(clientID string, rows ...map[string]string) (*memdoc.Doc, []*memdoc.Node) {
	layout := page.Portal()
	doc := memdoc.New()
	doc.Add(clientIDField.Selector, &memdoc.Node{Name: "client-id", Props: map[string]string{"value": clientID}})

	var nodes []*memdoc.Node
	for _, cells := range rows {
		row := doc.Add(layout.AlertRows, &memdoc.Node{Name: "row"})
		for sel, text := range cells {
			row.Add(sel, &memdoc.Node{Name: sel, Content: text})
		}
		nodes = append(nodes, row)
	}
	return doc, nodes
}

func builtinRegistry(t *testing.T) *Registry {
	t.Helper()
	reg, err := NewRegistry(Builtin()...)
	if err != nil {
		t.Fatalf("builtin registry invalid: %v", err)
	}
	return reg
}

func TestBuiltin_Valid(t *testing.T) {
	t.Parallel()

	reg := builtinRegistry(t)
	if n := len(reg.Definitions()); n != 5 {
		t.Fatalf("definitions = %d, want 5", n)
	}
	for _, label := range []string{
		"Cisco Meraki - Unusually Low Log Count",
		"Office365 - Unusually Low Log Count",
		"GSuite - Unapproved Foreign Country Login",
		"GSuite - Rare Login",
		"Server Agent Unresponsive",
	} {
		if _, ok := reg.Match(label); !ok {
			t.Errorf("Match(%q) not found", label)
		}
	}
}

func TestMatch_ExactOnly(t *testing.T) {
	t.Parallel()

	reg := builtinRegistry(t)
	for _, label := range []string{"gsuite - rare login", "GSuite - Rare Login ", "GSuite - Rare", ""} {
		if _, ok := reg.Match(label); ok {
			t.Errorf("Match(%q) matched, want no match", label)
		}
	}
}

func TestNewRegistry_Rejects(t *testing.T) {
	t.Parallel()

	base := func() Definition {
		return Definition{
			Label:  "Rule",
			Links:  LinkTemplates{Generic: "https://siem.example/?q=<id>"},
			Fields: []FieldDescriptor{clientIDField},
			Resolutions: map[Action][]Resolution{
				ActionEscalate: {{Clients: Default(), Narrative: Literal("x")}},
			},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Definition)
		extra  []Definition
		want   string
	}{
		{"empty label", func(d *Definition) { d.Label = "" }, nil, "empty label"},
		{"duplicate label", func(*Definition) {}, []Definition{base()}, "duplicate label"},
		{"placeholder without field", func(d *Definition) {
			d.Links.Generic = "https://siem.example/?q=<id>&host=<device>"
		}, nil, "<device> has no field"},
		{"no template", func(d *Definition) { d.Links = LinkTemplates{} }, nil, "no link template"},
		{"two defaults", func(d *Definition) {
			d.Resolutions[ActionEscalate] = append(d.Resolutions[ActionEscalate], Resolution{Clients: Default()})
		}, nil, "2 default entries"},
		{"overlapping clients", func(d *Definition) {
			d.Resolutions[ActionCloseBenign] = []Resolution{
				{Clients: Clients("1", "2")},
				{Clients: Client("2")},
			}
		}, nil, `client "2" claimed by more than one entry`},
		{"empty client list", func(d *Definition) {
			d.Resolutions[ActionCloseBenign] = []Resolution{{Clients: Clients()}}
		}, nil, "lists no clients"},
		{"notify on close", func(d *Definition) {
			d.Resolutions[ActionCloseBenign] = []Resolution{{Clients: Default(), Notify: true}}
		}, nil, "notify is only valid for escalate"},
		{"unknown action", func(d *Definition) {
			d.Resolutions["archive"] = []Resolution{{Clients: Default()}}
		}, nil, "unknown action"},
		{"malformed placeholder", func(d *Definition) {
			d.Fields = append(d.Fields, FieldDescriptor{Placeholder: "device", Selector: "td"})
		}, nil, "malformed placeholder"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			d := base()
			tt.mutate(&d)
			_, err := NewRegistry(append(tt.extra, d)...)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want substring %q", err, tt.want)
			}
		})
	}
}

func TestSelect(t *testing.T) {
	t.Parallel()

	reg := builtinRegistry(t)
	agent, _ := reg.Match("Server Agent Unresponsive")

	tests := []struct {
		name         string
		action       Action
		client       string
		wantAutosave bool
		wantDefault  bool
	}{
		{"listed client gets set entry", ActionCloseBenign, "583", true, false},
		{"list boundary", ActionCloseBenign, "618", true, false},
		{"gap in list falls back", ActionCloseBenign, "594", false, true},
		{"unknown client falls back", ActionCloseBenign, "123", false, true},
		{"empty client falls back", ActionCloseBenign, "", false, true},
		{"escalate has only default", ActionEscalate, "583", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			res, ok := agent.Select(tt.action, tt.client)
			if !ok {
				t.Fatal("no resolution selected")
			}
			if res.Autosave != tt.wantAutosave {
				t.Errorf("Autosave = %v, want %v", res.Autosave, tt.wantAutosave)
			}
			if res.Clients.IsDefault() != tt.wantDefault {
				t.Errorf("IsDefault = %v, want %v", res.Clients.IsDefault(), tt.wantDefault)
			}
		})
	}
}

func TestSelect_ExplicitBeatsEarlierDefault(t *testing.T) {
	t.Parallel()

	d := Definition{
		Resolutions: map[Action][]Resolution{
			ActionCloseBenign: {
				{Clients: Default(), Narrative: Literal("default")},
				{Clients: Client("7"), Narrative: Literal("seven")},
			},
		},
	}
	res, ok := d.Select(ActionCloseBenign, "7")
	if !ok {
		t.Fatal("no resolution selected")
	}
	if got := ResolveNarrative(context.Background(), res, nil, nil); got != "seven" {
		t.Errorf("narrative = %q, want %q", got, "seven")
	}
}

func TestSelect_None(t *testing.T) {
	t.Parallel()

	d := Definition{
		Resolutions: map[Action][]Resolution{
			ActionCloseBenign: {{Clients: Client("7"), Narrative: Literal("seven")}},
		},
	}
	if _, ok := d.Select(ActionCloseBenign, "8"); ok {
		t.Error("expected no resolution for unlisted client without default")
	}
	if _, ok := d.Select(ActionEscalate, "7"); ok {
		t.Error("expected no resolution for undefined action")
	}
}

func TestEvidenceLink_TemplateChoice(t *testing.T) {
	t.Parallel()

	reg := builtinRegistry(t)
	agent, _ := reg.Match("Server Agent Unresponsive")

	byIP, err := agent.EvidenceLink(map[string]string{"<id>": "583", "<device>": "10.1.2.3"})
	if err != nil {
		t.Fatalf("EvidenceLink: %v", err)
	}
	if !strings.Contains(byIP, "match_phrase:(source.ip:10.1.2.3)") {
		t.Errorf("address link = %q, want source.ip filter", byIP)
	}

	byName, err := agent.EvidenceLink(map[string]string{"<id>": "583", "<device>": "POS 01"})
	if err != nil {
		t.Fatalf("EvidenceLink: %v", err)
	}
	if !strings.Contains(byName, "match_phrase:(host.name:POS%2001)") {
		t.Errorf("name link = %q, want encoded host.name filter", byName)
	}
	if !strings.Contains(byName, "match_phrase:(client_id:583)") {
		t.Errorf("name link = %q, want client filter", byName)
	}
}

func TestEvidenceLink_Unresolved(t *testing.T) {
	t.Parallel()

	reg := builtinRegistry(t)
	rare, _ := reg.Match("GSuite - Rare Login")

	_, err := rare.EvidenceLink(map[string]string{"<id>": "123"})
	if !errors.Is(err, ErrUnresolvedPlaceholder) {
		t.Fatalf("err = %v, want ErrUnresolvedPlaceholder", err)
	}
	if !strings.Contains(err.Error(), "<email>") {
		t.Errorf("err = %q, want it to name <email>", err)
	}
}

func TestEvidenceLink_NoPlaceholderLeftWhenFieldsSupplied(t *testing.T) {
	t.Parallel()

	samples := []string{"123", "a b", "<id>", "x@y.example", "10.0.0.1", "pos-01", "", "100%"}
	for _, def := range builtinRegistry(t).Definitions() {
		for _, s := range samples {
			values := make(map[string]string, len(def.Fields))
			for _, f := range def.Fields {
				values[f.Placeholder] = s
			}
			link, err := def.EvidenceLink(values)
			if err != nil {
				t.Errorf("%s with %q: %v", def.Label, s, err)
				continue
			}
			if left := placeholderRE.FindString(link); left != "" {
				t.Errorf("%s with %q: leftover %s", def.Label, s, left)
			}
		}
	}
}

func TestEncodeComponent(t *testing.T) {
	t.Parallel()

	tests := []struct{ in, want string }{
		{"plain", "plain"},
		{"a b", "a%20b"},
		{"a+b", "a%2Bb"},
		{"jdoe@example.com", "jdoe%40example.com"},
		{"a/b?c=d&e", "a%2Fb%3Fc%3Dd%26e"},
		{"it's (ok)*!~-_.", "it's%20(ok)*!~-_."},
		{"<id>", "%3Cid%3E"},
	}
	for _, tt := range tests {
		if got := EncodeComponent(tt.in); got != tt.want {
			t.Errorf("EncodeComponent(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestExtract(t *testing.T) {
	t.Parallel()

	ctx := testCtx()
	doc, rows := alertPage("123", map[string]string{accountCell: "  jdoe@example.com "})
	row := rows[0]

	if v, ok := Extract(ctx, doc, row, clientIDField); !ok || v != "123" {
		t.Errorf("page value = %q, %v; want 123, true", v, ok)
	}
	if v, ok := Extract(ctx, doc, row, accountField); !ok || v != "jdoe@example.com" {
		t.Errorf("row text = %q, %v; want trimmed account", v, ok)
	}
	if _, ok := Extract(ctx, doc, row, deviceField); ok {
		t.Error("missing row field reported as found")
	}
	if _, ok := Extract(ctx, doc, nil, accountField); ok {
		t.Error("row field without row reported as found")
	}

	row.Add(deviceCell, &memdoc.Node{Name: "device", Content: "x", Fail: true})
	if _, ok := Extract(ctx, doc, row, deviceField); ok {
		t.Error("read failure reported as found")
	}
}

func TestExtract_ValueMissing(t *testing.T) {
	t.Parallel()

	doc := memdoc.New()
	doc.Add(clientIDField.Selector, &memdoc.Node{Name: "client-id"})
	if _, ok := Extract(testCtx(), doc, nil, clientIDField); ok {
		t.Error("element without value reported as found")
	}
}

func TestScan(t *testing.T) {
	t.Parallel()

	layout := page.Portal()
	doc, _ := alertPage("583",
		map[string]string{layout.LabelCell: "GSuite - Rare Login", accountCell: "jdoe@example.com"},
		map[string]string{layout.LabelCell: "Some Other Alert"},
		map[string]string{layout.LabelCell: "Server Agent Unresponsive", deviceCell: "POS-01"},
		map[string]string{layout.LabelCell: "Server Agent Unresponsive"},
		map[string]string{},
	)

	rows, err := Scan(context.Background(), doc, layout, builtinRegistry(t), log.Nop())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(rows))
	}

	rare := rows[0]
	if rare.Index != 0 || rare.Label != "GSuite - Rare Login" || rare.ClientID != "583" {
		t.Errorf("rare row = %+v", rare)
	}
	if rare.LinkErr != nil || !strings.Contains(rare.Link, "user.email:jdoe%40example.com") {
		t.Errorf("rare link = %q, err %v", rare.Link, rare.LinkErr)
	}

	agent := rows[1]
	if agent.Index != 2 || agent.Values["<device>"] != "POS-01" {
		t.Errorf("agent row = %+v", agent)
	}
	if agent.LinkErr != nil || !strings.Contains(agent.Link, "host.name:POS-01") {
		t.Errorf("agent link = %q, err %v", agent.Link, agent.LinkErr)
	}

	broken := rows[2]
	if broken.Index != 3 || broken.LinkErr == nil || broken.Link != "" {
		t.Errorf("row without device = %+v, want LinkErr and no link", broken)
	}
	if broken.Actionable() || !slices.Equal(broken.Missing, []string{"<device>"}) {
		t.Errorf("Missing = %v, want [<device>]", broken.Missing)
	}
	if broken.ClientID != "" {
		t.Errorf("ClientID = %q, want none for an incomplete row", broken.ClientID)
	}
	if !rare.Actionable() || !agent.Actionable() {
		t.Error("complete rows reported as not actionable")
	}
}

func TestFirstFor(t *testing.T) {
	t.Parallel()

	onlyClose := &Definition{Resolutions: map[Action][]Resolution{
		ActionCloseBenign: {{Clients: Default()}},
	}}
	both := &Definition{Resolutions: map[Action][]Resolution{
		ActionEscalate:    {{Clients: Default()}},
		ActionCloseBenign: {{Clients: Default()}},
	}}
	rows := []AlertRow{{Index: 0, Rule: onlyClose}, {Index: 1, Rule: both}}

	if r, ok := FirstFor(rows, ActionEscalate); !ok || r.Index != 1 {
		t.Errorf("FirstFor(escalate) = %v, %v; want row 1", r, ok)
	}
	if r, ok := FirstFor(rows, ActionCloseBenign); !ok || r.Index != 0 {
		t.Errorf("FirstFor(closeBenign) = %v, %v; want row 0", r, ok)
	}
	if _, ok := FirstFor(nil, ActionEscalate); ok {
		t.Error("FirstFor on no rows found a row")
	}

	incomplete := []AlertRow{
		{Index: 0, Rule: both, Missing: []string{"<id>"}},
		{Index: 1, Rule: onlyClose},
	}
	if r, ok := FirstFor(incomplete, ActionCloseBenign); !ok || r.Index != 1 {
		t.Errorf("FirstFor(closeBenign) = %v, %v; want the complete row 1", r, ok)
	}
	if _, ok := FirstFor(incomplete, ActionEscalate); ok {
		t.Error("FirstFor(escalate) picked a row with missing fields")
	}
}

func TestRareLoginEscalate_DefaultResolution(t *testing.T) {
	t.Parallel()

	reg := builtinRegistry(t)
	rare, _ := reg.Match("GSuite - Rare Login")
	_, nodes := alertPage("123", map[string]string{
		timestampCell: "03/01/2026 10:15",
		accountCell:   "jdoe@example.com",
		sourceIPCell:  "203.0.113.9",
	})
	row := &AlertRow{Element: nodes[0], Rule: rare, ClientID: "123"}

	res, ok := rare.Select(ActionEscalate, "123")
	if !ok {
		t.Fatal("no escalate resolution")
	}
	if !res.Autosave || !res.Notify {
		t.Errorf("Autosave=%v Notify=%v, want both true", res.Autosave, res.Notify)
	}
	if !res.Narrative.Async() {
		t.Error("escalate narrative should be asynchronous")
	}

	// nil enricher degrades to Unknown
	got := ResolveNarrative(context.Background(), res, row, nil)
	for _, want := range []string{
		"GSuite - Rare Login\n\n",
		"Timestamp: 03/01/2026 10:15 EST",
		"Account: jdoe@example.com",
		"Source IP: 203.0.113.9",
		"Location: Unknown",
		"ISP: Unknown",
		"Please confirm this action",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("narrative missing %q:\n%s", want, got)
		}
	}
}

func TestLoginNarrative_Enriched(t *testing.T) {
	t.Parallel()

	reg := builtinRegistry(t)
	foreign, _ := reg.Match("GSuite - Unapproved Foreign Country Login")
	_, nodes := alertPage("123", map[string]string{sourceIPCell: "198.51.100.7"})
	row := &AlertRow{Element: nodes[0], Rule: foreign}

	e := &fakeEnricher{info: enrich.Info{Location: "Lagos, Lagos, NG", NetworkOwner: "AS37148 Example"}}
	res, _ := foreign.Select(ActionEscalate, "123")
	got := ResolveNarrative(context.Background(), res, row, e)

	if !strings.HasPrefix(got, "GSuite - Unapproved Foreign Country Login\n") {
		t.Errorf("narrative should start with rule name:\n%s", got)
	}
	if !strings.Contains(got, "Location: Lagos, Lagos, NG\nISP: AS37148 Example") {
		t.Errorf("narrative missing enrichment:\n%s", got)
	}
	if len(e.calls) != 1 || e.calls[0] != "198.51.100.7" {
		t.Errorf("enricher calls = %v", e.calls)
	}
	if res.Autosave {
		t.Error("foreign login escalate should require a manual save")
	}
}

func TestLoginNarrative_NoAddressSkipsLookup(t *testing.T) {
	t.Parallel()

	reg := builtinRegistry(t)
	rare, _ := reg.Match("GSuite - Rare Login")
	_, nodes := alertPage("123", map[string]string{accountCell: "jdoe@example.com"})
	row := &AlertRow{Element: nodes[0]}

	e := &fakeEnricher{info: enrich.Info{Location: "X", NetworkOwner: "Y"}}
	res, _ := rare.Select(ActionEscalate, "123")
	got := ResolveNarrative(context.Background(), res, row, e)

	if len(e.calls) != 0 {
		t.Errorf("enricher called %d times, want 0", len(e.calls))
	}
	if !strings.Contains(got, "Location: Unknown") {
		t.Errorf("narrative:\n%s", got)
	}
}

func TestServerAgentCloseBenign_ListedClient(t *testing.T) {
	t.Parallel()

	reg := builtinRegistry(t)
	agent, _ := reg.Match("Server Agent Unresponsive")

	_, nodes := alertPage("583", map[string]string{deviceCell: "POS-STORE-12"})
	res, ok := agent.Select(ActionCloseBenign, "583")
	if !ok {
		t.Fatal("no resolution")
	}
	if res.Status != StatusClosed || !res.Autosave {
		t.Errorf("Status=%q Autosave=%v", res.Status, res.Autosave)
	}
	got := ResolveNarrative(context.Background(), res, &AlertRow{Element: nodes[0]}, nil)
	if !strings.Contains(got, "Device POS-STORE-12 matches known") {
		t.Errorf("narrative = %q", got)
	}

	_, bare := alertPage("583", map[string]string{})
	got = ResolveNarrative(context.Background(), res, &AlertRow{Element: bare[0]}, nil)
	if !strings.Contains(got, "Device Unknown matches known") {
		t.Errorf("narrative without device = %q", got)
	}
}

func TestResolveNarrative_Literal(t *testing.T) {
	t.Parallel()

	res := AssignResolution
	if got := ResolveNarrative(context.Background(), &res, nil, nil); got != "Assigned and beginning investigation." {
		t.Errorf("narrative = %q", got)
	}
	if res.Status != StatusInvestigating || !res.Autosave {
		t.Errorf("assign resolution = %+v", res)
	}
}
