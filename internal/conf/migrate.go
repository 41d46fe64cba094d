package conf

// upgrade moves legacy root-level keys into their grouped subtrees. Values
// already present in the target group win over the legacy copy. It reports
// whether the tree changed.
func upgrade(t Tree) bool {
	changed := false

	ensureGroup := func(name string) map[string]any {
		if m, ok := t[name].(map[string]any); ok {
			return m
		}
		m := map[string]any{}
		t[name] = m
		return m
	}

	move := func(flatKey, groupName, groupKey string) {
		v, ok := t[flatKey]
		if !ok {
			return
		}
		group := ensureGroup(groupName)
		if _, exists := group[groupKey]; !exists {
			group[groupKey] = v
		}
		delete(t, flatKey)
		changed = true
	}

	move("autoInject", "injector", "autoInject")
	move("cdp_port", "injector", "cdp_port")
	move("njs_pattern", "injector", "njs_pattern")
	move("idleon_url", "injector", "idleon_url")
	move("timeout", "injector", "timeout")
	move("darkmode", "webui", "darkmode")

	return changed
}

// ensurePluginEntries gives every enabled plugin an entry under
// plugin_configs, creating an empty map when absent.
func ensurePluginEntries(t Tree) bool {
	ids := pluginIDs(t)
	if len(ids) == 0 {
		return false
	}
	configs, ok := t[KeyPluginConfigs].(map[string]any)
	if !ok {
		configs = map[string]any{}
		t[KeyPluginConfigs] = configs
	}
	changed := false
	for _, id := range ids {
		if _, ok := configs[id].(map[string]any); !ok {
			configs[id] = map[string]any{}
			changed = true
		}
	}
	return changed
}

func pluginIDs(t Tree) []string {
	raw, _ := t[KeyPlugins].([]any)
	ids := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok && s != "" {
			ids = append(ids, s)
		}
	}
	return ids
}
