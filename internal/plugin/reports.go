package plugin

import (
	"fmt"
	"html"
	"sort"
	"strings"

	"github.com/kandev/ciagent/internal/common/stringutil"
	"github.com/kandev/ciagent/internal/scheduler/record"
)

// maxEventMessageLen bounds an event message's rendered length so a
// verbose executor/CI-server error can't blow up the status report page.
const maxEventMessageLen = 200

func renderAgentReport(r record.Record) string {
	var events strings.Builder
	for _, e := range r.Events {
		msg := stringutil.TruncateStringWithEllipsis(e.Message, maxEventMessageLen)
		fmt.Fprintf(&events, "<li>%s — %s: %s</li>", e.Time.Format("2006-01-02T15:04:05Z07:00"), html.EscapeString(string(e.State)), html.EscapeString(msg))
	}
	return fmt.Sprintf(`<div class="agent-status-report">
<p>Agent: %s</p>
<p>State: %s</p>
<p>Idle: %t</p>
<ul>%s</ul>
</div>`, html.EscapeString(r.AgentID), html.EscapeString(string(r.State)), r.Idle, events.String())
}

func renderClusterReport(cluster string, counts map[record.State]int) string {
	states := make([]string, 0, len(counts))
	for s := range counts {
		states = append(states, string(s))
	}
	sort.Strings(states)

	var rows strings.Builder
	for _, s := range states {
		fmt.Fprintf(&rows, "<tr><td>%s</td><td>%d</td></tr>", html.EscapeString(s), counts[record.State(s)])
	}
	return fmt.Sprintf(`<div class="cluster-status-report">
<p>Cluster: %s</p>
<table><thead><tr><th>State</th><th>Count</th></tr></thead><tbody>%s</tbody></table>
</div>`, html.EscapeString(cluster), rows.String())
}

func renderPluginReport() string {
	return `<div class="plugin-status-report"><p>ciagent elastic-agent plugin is running.</p></div>`
}
