package prefs

import (
	"fmt"
	"log/slog"

	"msgrelay/internal/codec"
	"msgrelay/internal/endpoint"
	"msgrelay/internal/filter"
	"msgrelay/internal/link"
)

// LinkKey holds the link name. Further link keys use it as a prefix.
const LinkKey = "CommLink_1"

var endpointFields = []string{
	"Name", "IsCollapsed", "IsEnabled", "CommunicationDeviceType", "Encoding",
	"LocalIPAddress", "Port", "Protocol", "RemoteIPAddress", "RemotePort",
}

var filterFields = []string{"Type", "Name", "IsEnabled", "Param1", "Param2", "All"}

func endpointKey(role endpoint.Role, i int, field string) string {
	return fmt.Sprintf("%s_%d_%s", role, i, field)
}

func filterKey(i int, field string) string {
	return fmt.Sprintf("Filter_%d_%s", i, field)
}

// SaveLink writes l into s, replacing any previously saved link. Call
// Store.Save to persist it.
func SaveLink(s *Store, l *link.Link) {
	s.Set(LinkKey, l.Name())
	s.Set(LinkKey+"_IsEnabled", l.Enabled())
	s.Set(LinkKey+"_TestEncoding", l.TestCodec().Name())
	s.Set(LinkKey+"_TestString", l.TestString())

	saveEndpoints(s, endpoint.RoleSource, l.Sources())
	saveEndpoints(s, endpoint.RoleDestination, l.Destinations())
	saveFilters(s, l.Pipeline())
}

func saveEndpoints(s *Store, role endpoint.Role, eps []*endpoint.Endpoint) {
	countKey := fmt.Sprintf("%s_Count", role)
	for i := range s.GetInt(countKey, 0) {
		for _, f := range endpointFields {
			s.Remove(endpointKey(role, i, f))
		}
	}

	s.Set(countKey, len(eps))
	for i, ep := range eps {
		info := ep.Info()
		s.Set(endpointKey(role, i, "Name"), info.Name)
		s.Set(endpointKey(role, i, "IsCollapsed"), info.Collapsed)
		s.Set(endpointKey(role, i, "IsEnabled"), info.Enabled)
		s.Set(endpointKey(role, i, "CommunicationDeviceType"), info.Type.String())
		s.Set(endpointKey(role, i, "Encoding"), info.Encoding)
		s.Set(endpointKey(role, i, "LocalIPAddress"), info.LocalAddress)
		s.Set(endpointKey(role, i, "Port"), info.LocalPort)
		s.Set(endpointKey(role, i, "Protocol"), info.Protocol.String())
		s.Set(endpointKey(role, i, "RemoteIPAddress"), info.RemoteAddress)
		s.Set(endpointKey(role, i, "RemotePort"), info.RemotePort)
	}
}

func saveFilters(s *Store, p *filter.Pipeline) {
	for i := range s.GetInt("Filter_Count", 0) {
		for _, f := range filterFields {
			s.Remove(filterKey(i, f))
		}
	}

	stages := p.Stages()
	s.Set("Filter_Count", len(stages))
	for i, st := range stages {
		s.Set(filterKey(i, "Type"), st.Kind().PersistedName())
		s.Set(filterKey(i, "Name"), st.Name())
		s.Set(filterKey(i, "IsEnabled"), st.Enabled())
		switch st.Shape() {
		case filter.ShapeOneString:
			s.Set(filterKey(i, "Param1"), st.Text())
		case filter.ShapeOneInt:
			s.Set(filterKey(i, "Param1"), st.Number())
		case filter.ShapeTwoString:
			s.Set(filterKey(i, "Param1"), st.Text())
			s.Set(filterKey(i, "Param2"), st.Text2())
			s.Set(filterKey(i, "All"), st.Flag())
		case filter.ShapeOneStringOneInt:
			s.Set(filterKey(i, "Param1"), st.Text())
			s.Set(filterKey(i, "Param2"), st.Number())
		case filter.ShapeOneStringOneBool:
			s.Set(filterKey(i, "Param1"), st.Text())
			s.Set(filterKey(i, "Param2"), st.Flag())
		}
	}
}

// LoadLink adds the endpoints and stages saved in s to l. Entries that
// cannot be restored are skipped with a warning. opts are applied to every
// restored endpoint after the saved settings. Endpoints saved as enabled
// are returned without being started.
func LoadLink(s *Store, l *link.Link, logger *slog.Logger, opts ...endpoint.Option) (enable []*endpoint.Endpoint) {
	if logger == nil {
		logger = slog.Default()
	}
	if name := s.GetString(LinkKey, ""); name != "" {
		l.SetName(name)
	}
	if c, err := codec.Lookup(s.GetString(LinkKey+"_TestEncoding", codec.DefaultName)); err == nil {
		if err := l.SetTestCodec(c); err != nil {
			logger.Warn("test string filter failed", "error", err)
		}
	} else {
		logger.Warn("skipping saved test encoding", "error", err)
	}

	loadFilters(s, l.Pipeline(), logger)
	enable = append(enable, loadEndpoints(s, l, endpoint.RoleSource, logger, opts)...)
	enable = append(enable, loadEndpoints(s, l, endpoint.RoleDestination, logger, opts)...)

	if err := l.SetTestString(s.GetString(LinkKey+"_TestString", "")); err != nil {
		logger.Warn("test string filter failed", "error", err)
	}
	l.SetEnabled(s.GetBool(LinkKey+"_IsEnabled", true))
	return enable
}

func loadEndpoints(s *Store, l *link.Link, role endpoint.Role, logger *slog.Logger, extra []endpoint.Option) (enable []*endpoint.Endpoint) {
	count := s.GetInt(fmt.Sprintf("%s_Count", role), 0)
	for i := range count {
		ep, err := loadEndpoint(s, l, role, i, extra)
		if err != nil {
			logger.Warn("skipping saved endpoint", "role", role.String(), "index", i, "error", err)
			continue
		}
		add := l.AddSource
		if role == endpoint.RoleDestination {
			add = l.AddDestination
		}
		if err := add(ep); err != nil {
			logger.Warn("skipping saved endpoint", "role", role.String(), "index", i, "error", err)
			continue
		}
		if s.GetBool(endpointKey(role, i, "IsEnabled"), true) {
			enable = append(enable, ep)
		}
	}
	return enable
}

func loadEndpoint(s *Store, l *link.Link, role endpoint.Role, i int, extra []endpoint.Option) (*endpoint.Endpoint, error) {
	key := func(field string) string { return endpointKey(role, i, field) }

	typ, err := endpoint.ParseType(s.GetString(key("CommunicationDeviceType"), ""))
	if err != nil {
		return nil, err
	}
	proto, err := endpoint.ParseProtocol(s.GetString(key("Protocol"), ""))
	if err != nil {
		return nil, err
	}
	c, err := codec.Lookup(s.GetString(key("Encoding"), codec.DefaultName))
	if err != nil {
		return nil, err
	}
	opts := []endpoint.Option{
		endpoint.WithName(s.GetString(key("Name"), "")),
		endpoint.WithCollapsed(s.GetBool(key("IsCollapsed"), true)),
		endpoint.WithProtocol(proto),
		endpoint.WithCodec(c),
		endpoint.WithLocal(s.GetString(key("LocalIPAddress"), ""), s.GetInt(key("Port"), 0)),
		endpoint.WithRemote(s.GetString(key("RemoteIPAddress"), ""), s.GetInt(key("RemotePort"), 0)),
	}
	return l.NewEndpoint(role, typ, append(opts, extra...)...), nil
}

func loadFilters(s *Store, p *filter.Pipeline, logger *slog.Logger) {
	count := s.GetInt("Filter_Count", 0)
	for i := range count {
		st, err := loadFilter(s, i)
		if err != nil {
			logger.Warn("skipping saved filter", "index", i, "error", err)
			continue
		}
		p.Add(st)
	}
}

func loadFilter(s *Store, i int) (*filter.Stage, error) {
	kind, err := filter.ParseKind(s.GetString(filterKey(i, "Type"), ""))
	if err != nil {
		return nil, err
	}
	st := filter.NewStage(kind)
	st.SetName(s.GetString(filterKey(i, "Name"), ""))
	st.SetEnabled(s.GetBool(filterKey(i, "IsEnabled"), false))
	if err := st.SetParams(s.GetString(filterKey(i, "Param1"), ""), s.GetString(filterKey(i, "Param2"), "")); err != nil {
		return nil, err
	}
	if kind == filter.KindReplace {
		st.SetFlag(s.GetBool(filterKey(i, "All"), true))
	}
	return st, nil
}
