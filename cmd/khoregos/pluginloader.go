package main

import (
	stdplugin "plugin"

	"github.com/basket/khoregos/internal/plugin"
)

// soFileLoader resolves a plugin.Entry's module path to a compiled Go
// shared object built with `go build -buildmode=plugin`, looking up its
// exported `New` symbol. This is the standard library's own out-of-tree
// extension mechanism (no library in the example corpus offers dynamic
// module loading, so there is nothing to ground this on but `plugin`
// itself; see DESIGN.md).
//
// New must have the signature `func(config map[string]string) (plugin.Plugin, error)`.
func soFileLoader(entry plugin.Entry) (plugin.Plugin, error) {
	p, err := stdplugin.Open(entry.Module)
	if err != nil {
		return plugin.Plugin{}, err
	}
	sym, err := p.Lookup("New")
	if err != nil {
		return plugin.Plugin{}, err
	}
	constructor, ok := sym.(func(map[string]string) (plugin.Plugin, error))
	if !ok {
		return plugin.Plugin{}, errUnexpectedPluginSignature(entry.Module)
	}
	return constructor(entry.Config)
}

type pluginSignatureError string

func (e pluginSignatureError) Error() string {
	return "plugin: " + string(e) + " does not export New(map[string]string) (plugin.Plugin, error)"
}

func errUnexpectedPluginSignature(module string) error {
	return pluginSignatureError(module)
}
