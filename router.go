package dbus

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/fenwick-labs/gobus/fragments"
)

type interfaceMember struct {
	Interface string
	Member    string
}

func (im interfaceMember) String() string { return im.Interface + "." + im.Member }

// ServiceRouter dispatches incoming method calls to exported
// interfaces, and answers the standard Peer, Introspectable,
// Properties, and ObjectManager interfaces every DBus object offers.
type ServiceRouter struct {
	conn *Conn

	mu       sync.RWMutex
	objects  map[ObjectPath]map[string]*InterfaceModel
	handlers map[interfaceMember]handlerFunc
}

func newServiceRouter() *ServiceRouter {
	return &ServiceRouter{
		objects:  map[ObjectPath]map[string]*InterfaceModel{},
		handlers: map[interfaceMember]handlerFunc{},
	}
}

func (r *ServiceRouter) export(path ObjectPath, model *InterfaceModel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ifs := r.objects[path]
	if ifs == nil {
		ifs = map[string]*InterfaceModel{}
		r.objects[path] = ifs
	}
	ifs[model.Name] = model
}

func (r *ServiceRouter) unexport(path ObjectPath, interfaceName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ifs := r.objects[path]
	if ifs == nil {
		return
	}
	delete(ifs, interfaceName)
	if len(ifs) == 0 {
		delete(r.objects, path)
	}
}

func (r *ServiceRouter) handle(interfaceName, methodName string, fn any) error {
	if err := ValidateInterfaceName(interfaceName); err != nil {
		return err
	}
	if err := ValidateMemberName(methodName); err != nil {
		return err
	}
	h, err := handlerForFunc(fn)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[interfaceMember{interfaceName, methodName}] = h
	return nil
}

func (r *ServiceRouter) model(path ObjectPath, interfaceName string) *InterfaceModel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if ifs := r.objects[path]; ifs != nil {
		return ifs[interfaceName]
	}
	return nil
}

// children returns the immediate path segments of objects exported
// below prefix.
func (r *ServiceRouter) children(prefix ObjectPath) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := map[string]bool{}
	var ret []string
	for p := range r.objects {
		if !p.IsChildOf(prefix) {
			continue
		}
		rest := strings.TrimPrefix(string(p), string(prefix.Clean()))
		rest = strings.TrimPrefix(rest, "/")
		first, _, _ := strings.Cut(rest, "/")
		if first != "" && !seen[first] {
			seen[first] = true
			ret = append(ret, first)
		}
	}
	return ret
}

// managedObjects returns every path at or below prefix along with the
// interfaces and properties it exports, for ObjectManager.
func (r *ServiceRouter) managedObjects(ctx context.Context, prefix ObjectPath) (map[ObjectPath]map[string]map[string]Variant, error) {
	r.mu.RLock()
	paths := make([]ObjectPath, 0, len(r.objects))
	for p := range r.objects {
		if p == prefix || p.IsChildOf(prefix) {
			paths = append(paths, p)
		}
	}
	r.mu.RUnlock()

	ret := map[ObjectPath]map[string]map[string]Variant{}
	for _, p := range sortedPaths(paths) {
		r.mu.RLock()
		ifs := r.objects[p]
		models := make([]*InterfaceModel, 0, len(ifs))
		for _, m := range ifs {
			models = append(models, m)
		}
		r.mu.RUnlock()

		props := map[string]map[string]Variant{}
		for _, m := range models {
			vals, err := propsSnapshot(ctx, p, m)
			if err != nil {
				return nil, err
			}
			props[m.Name] = vals
		}
		ret[p] = props
	}
	return ret, nil
}

func propsSnapshot(ctx context.Context, path ObjectPath, m *InterfaceModel) (map[string]Variant, error) {
	ret := map[string]Variant{}
	for _, p := range m.Properties {
		if p.Disabled || p.Get == nil {
			continue
		}
		v, err := p.Get(ctx, path)
		if err != nil {
			return nil, err
		}
		ret[p.Name] = Variant{v}
	}
	return ret, nil
}

// dispatch finds and invokes the handler for a call, returning the
// response body to encode (nil if none) or an error to report back.
func (r *ServiceRouter) dispatch(ctx context.Context, path ObjectPath, iface, member string, body *fragments.Decoder) (any, error) {
	switch iface {
	case ifacePeer:
		return r.dispatchPeer(ctx, path, member, body)
	case ifaceIntrospect:
		if member == "Introspect" {
			return r.introspect(path)
		}
	case ifaceProps:
		return r.dispatchProperties(ctx, path, member, body)
	case ifaceObjectManager:
		if member == "GetManagedObjects" {
			return r.managedObjects(ctx, path)
		}
	}

	if iface == "" {
		switch matches := r.modelsWithMethod(path, member); len(matches) {
		case 0:
			// fall through to the flat handler table and, failing
			// that, UnknownMethodError below.
		case 1:
			return r.callMethod(ctx, path, matches[0], member, body)
		default:
			return nil, InvalidArgsError{Reason: fmt.Sprintf("method %q is ambiguous: exported by %d interfaces at %s, specify Interface", member, len(matches), path)}
		}
	} else if m := r.model(path, iface); m != nil {
		if meth := m.method(member); meth != nil {
			return r.callMethod(ctx, path, m, member, body)
		}
		return nil, UnknownMethodError{Interface: iface, Method: member}
	}

	r.mu.RLock()
	h := r.handlers[interfaceMember{iface, member}]
	r.mu.RUnlock()
	if h != nil {
		return h(ctx, path, body)
	}

	if iface == "" {
		return nil, UnknownMethodError{Interface: iface, Method: member}
	}
	return nil, UnknownInterfaceError{Interface: iface}
}

// modelsWithMethod returns every interface exported at path that
// declares a method named member, for dispatching calls that arrive
// without an interface name.
func (r *ServiceRouter) modelsWithMethod(path ObjectPath, member string) []*InterfaceModel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ret []*InterfaceModel
	for _, m := range r.objects[path] {
		if m.method(member) != nil {
			ret = append(ret, m)
		}
	}
	return ret
}

func (r *ServiceRouter) callMethod(ctx context.Context, path ObjectPath, m *InterfaceModel, member string, body *fragments.Decoder) (any, error) {
	meth := m.method(member)
	h, err := handlerForFunc(meth.Handler)
	if err != nil {
		return nil, err
	}
	return h(ctx, path, body)
}

func (r *ServiceRouter) dispatchPeer(ctx context.Context, path ObjectPath, member string, body *fragments.Decoder) (any, error) {
	switch member {
	case "Ping":
		return nil, nil
	case "GetMachineId":
		return machineID()
	}
	return nil, UnknownMethodError{Interface: ifacePeer, Method: member}
}

func (r *ServiceRouter) dispatchProperties(ctx context.Context, path ObjectPath, member string, body *fragments.Decoder) (any, error) {
	switch member {
	case "Get":
		var req struct{ InterfaceName, PropertyName string }
		if err := body.Value(ctx, &req); err != nil {
			return nil, err
		}
		m := r.model(path, req.InterfaceName)
		if m == nil {
			return nil, UnknownInterfaceError{Interface: req.InterfaceName}
		}
		p := m.property(req.PropertyName)
		if p == nil {
			return nil, InvalidArgsError{Reason: fmt.Sprintf("interface %s has no property %s", req.InterfaceName, req.PropertyName)}
		}
		if p.Access == PropertyWrite {
			return nil, PropertyWriteOnlyError{Interface: req.InterfaceName, Property: req.PropertyName}
		}
		v, err := p.Get(ctx, path)
		if err != nil {
			return nil, err
		}
		return Variant{v}, nil
	case "Set":
		var req struct {
			InterfaceName string
			PropertyName  string
			Value         Variant
		}
		if err := body.Value(ctx, &req); err != nil {
			return nil, err
		}
		m := r.model(path, req.InterfaceName)
		if m == nil {
			return nil, UnknownInterfaceError{Interface: req.InterfaceName}
		}
		p := m.property(req.PropertyName)
		if p == nil {
			return nil, InvalidArgsError{Reason: fmt.Sprintf("interface %s has no property %s", req.InterfaceName, req.PropertyName)}
		}
		if p.Access == PropertyRead {
			return nil, PropertyReadOnlyError{Interface: req.InterfaceName, Property: req.PropertyName}
		}
		if err := p.Set(ctx, path, req.Value.Value); err != nil {
			return nil, err
		}
		if p.EmitsChangedSignal && r.conn != nil {
			r.conn.EmitSignal(ctx, path, &PropertiesChanged{
				Interface:    req.InterfaceName,
				ChangedProps: map[string]Variant{req.PropertyName: req.Value},
			})
		}
		return nil, nil
	case "GetAll":
		var ifaceName string
		if err := body.Value(ctx, &ifaceName); err != nil {
			return nil, err
		}
		m := r.model(path, ifaceName)
		if m == nil {
			return nil, UnknownInterfaceError{Interface: ifaceName}
		}
		return propsSnapshot(ctx, path, m)
	}
	return nil, UnknownMethodError{Interface: ifaceProps, Method: member}
}

func (r *ServiceRouter) introspect(path ObjectPath) (string, error) {
	r.mu.RLock()
	ifs := r.objects[path]
	models := make([]*InterfaceModel, 0, len(ifs))
	for _, m := range ifs {
		models = append(models, m)
	}
	r.mu.RUnlock()

	children := r.children(path)
	return renderIntrospection(models, children), nil
}

func machineID() (string, error) {
	bs, err := readMachineID()
	if err != nil {
		return "", fmt.Errorf("reading machine id: %w", err)
	}
	return bs, nil
}
