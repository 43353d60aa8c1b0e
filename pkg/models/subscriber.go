package models

// Attributes flattens the subscriber into the map filters read from.
// Empty fields are left out so that IS_DEFINED reflects what was sent.
func (s Subscriber) Attributes() map[string]interface{} {
	attrs := make(map[string]interface{})
	set := func(key, value string) {
		if value != "" {
			attrs[key] = value
		}
	}

	set("subscriberId", s.SubscriberID)
	set("firstName", s.FirstName)
	set("lastName", s.LastName)
	set("email", s.Email)
	set("phone", s.Phone)
	set("locale", s.Locale)
	if s.Data != nil {
		attrs["data"] = s.Data
	}
	if s.IsOnline != nil {
		attrs["isOnline"] = *s.IsOnline
	}
	if s.LastOnlineAt != nil {
		attrs["lastOnlineAt"] = *s.LastOnlineAt
	}
	return attrs
}

// Merge overlays the non-empty fields of s onto base and returns the result.
func (s Subscriber) Merge(base Subscriber) Subscriber {
	out := base
	if s.SubscriberID != "" {
		out.SubscriberID = s.SubscriberID
	}
	if s.FirstName != "" {
		out.FirstName = s.FirstName
	}
	if s.LastName != "" {
		out.LastName = s.LastName
	}
	if s.Email != "" {
		out.Email = s.Email
	}
	if s.Phone != "" {
		out.Phone = s.Phone
	}
	if s.Locale != "" {
		out.Locale = s.Locale
	}
	if len(s.Data) > 0 {
		data := make(map[string]interface{}, len(base.Data)+len(s.Data))
		for k, v := range base.Data {
			data[k] = v
		}
		for k, v := range s.Data {
			data[k] = v
		}
		out.Data = data
	}
	if s.IsOnline != nil {
		out.IsOnline = s.IsOnline
	}
	if s.LastOnlineAt != nil {
		out.LastOnlineAt = s.LastOnlineAt
	}
	return out
}
