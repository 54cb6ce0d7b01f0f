package model

// All returns every model managed by migrations.
func All() []any {
	return []any{
		&Branch{},
		&Machine{},
		&ServiceType{},
		&Transaction{},
		&ProductLine{},
		&ServiceAssignment{},
		&MachineUsage{},
		&LifecycleEvent{},
		&PushSubscription{},
	}
}
