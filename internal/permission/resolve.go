package permission

// Resolve combines the three permission layers for one (user, tenant, resource) target.
//
// Layers are additive: the result is tenant ∪ contentType ∪ resource, and a narrower
// layer can only add bits. An expired resource layer contributes nothing. There is no
// deny bit, so removing access means revoking the bit at every layer that grants it.
func Resolve(tenant, contentType, resource FlagSet, resourceExpired bool) FlagSet {
	out := tenant.Union(contentType)
	if !resourceExpired {
		out = out.Union(resource)
	}
	return out
}

// HasPermission reports whether a resolved set grants p.
func HasPermission(resolved FlagSet, p Type) bool {
	return resolved.Has(p)
}
