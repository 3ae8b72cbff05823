package core

import (
	"context"

	"gopkg.in/yaml.v3"
)

// Configurable is implemented by modules that accept configuration.
// Called after instantiation and before Provision(). The node holds the
// module's entry from module_configs; JSON documents decode as YAML.
type Configurable interface {
	Configure(node *yaml.Node) error
}

// Provisioner is implemented by modules that need setup after instantiation,
// before the bot-facing Setup hook runs. ctx carries the module's scoped
// logger and the bot data directory.
type Provisioner interface {
	Provision(ctx *AppContext) error
}

// Validator is implemented by modules that reject a bad module_configs
// entry. It runs after Provision and a failure aborts the load.
type Validator interface {
	Validate() error
}

// Starter is implemented by the bot's infrastructure components: the usage
// log, the scheduler, the module loader, the gateway and Telegram polling.
// They start in registration order.
type Starter interface {
	Start() error
}

// Stopper is implemented by components that need to release resources.
// Called during shutdown in reverse order of Start().
type Stopper interface {
	Stop(ctx context.Context) error
}

// Reloader is implemented by components that react to a reload of
// config.json and modules.json. ctx already holds the new module_configs.
type Reloader interface {
	Reload(ctx *AppContext) error
}
