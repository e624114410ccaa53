package executor

import (
	"encoding/base64"
	"fmt"
)

// BootstrapParams carries the per-agent values the task spec's configure
// process writes into the agent's wrapper and autoregister files (spec.md
// §6 "Agent bootstrap payload").
type BootstrapParams struct {
	SourceURL       string
	CIServerURL     string
	AutoRegisterKey string
	Hostname        string
	Environments    string
	PluginID        string
	AgentID         string
	InitScript      string
	LogbackXML      string
}

// BuildTaskSpec builds the three-process task specification for a newly
// created agent job (spec.md §6). Process ordering is enforced by the
// caller via a single {order: [install, configure, run]} constraint at
// the executor-call layer.
func BuildTaskSpec(p BootstrapParams) JobSpec {
	install := Process{
		Name: "install",
		Commands: []string{
			"set -e",
			fmt.Sprintf("wget -O a.zip %s", p.SourceURL),
			"unzip a.zip",
			"rm a.zip",
			"mv agent-* agent",
		},
		MaxFailures: 1,
		Ephemeral:   false,
		MinDuration: 5,
		Daemon:      false,
		Final:       false,
	}

	configure := Process{
		Name:        "configure",
		Commands:    configureCommands(p),
		MaxFailures: 1,
		Ephemeral:   false,
		MinDuration: 5,
		Daemon:      false,
		Final:       false,
	}

	run := Process{
		Name:        "run",
		Commands:    runCommands(p),
		MaxFailures: 1,
		Ephemeral:   false,
		MinDuration: 5,
		Daemon:      false,
		Final:       false,
	}

	return JobSpec{Install: install, Configure: configure, Run: run}
}

func configureCommands(p BootstrapParams) []string {
	wrapperConf := wrapperPropertiesConf(p.CIServerURL)
	autoregister := autoregisterProperties(p)
	logbackB64 := base64.StdEncoding.EncodeToString([]byte(p.LogbackXML))

	return []string{
		fmt.Sprintf("cat > agent/wrapper-config/wrapper-properties.conf <<'EOF'\n%sEOF", wrapperConf),
		fmt.Sprintf("cat > agent/config/autoregister.properties <<'EOF'\n%sEOF", autoregister),
		fmt.Sprintf("echo %s | base64 -d > agent/config/agent-logback.xml", logbackB64),
		"cp agent/config/agent-logback.xml agent/config/agent-launcher-logback.xml",
		"cp agent/config/agent-logback.xml agent/config/jvm-agent-logback.xml",
	}
}

func wrapperPropertiesConf(ciServerURL string) string {
	return fmt.Sprintf(
		"wrapper.app.parameter.100=-serverUrl\n"+
			"wrapper.app.parameter.101=%s\n"+
			"wrapper.port={{executor.ports[wrapper]}}\n"+
			"wrapper.jvm.port.min=57345\n"+
			"wrapper.jvm.port.max=61000\n",
		ciServerURL,
	)
}

func autoregisterProperties(p BootstrapParams) string {
	return fmt.Sprintf(
		"agent.auto.register.key=%s\n"+
			"agent.auto.register.hostname=%s\n"+
			"agent.auto.register.environments=%s\n"+
			"agent.auto.register.elasticAgent.pluginId=%s\n"+
			"agent.auto.register.elasticAgent.agentId=%s\n",
		p.AutoRegisterKey, p.Hostname, p.Environments, p.PluginID, p.AgentID,
	)
}

func runCommands(p BootstrapParams) []string {
	cmds := []string{}
	if p.InitScript != "" {
		cmds = append(cmds, p.InitScript)
	}
	cmds = append(cmds, `export PATH="$HOME/bin:$PATH"`, "agent/bin/agent console")
	return cmds
}
