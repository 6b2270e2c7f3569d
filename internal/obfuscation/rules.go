package obfuscation

// BuiltinRules 内置 Java 混淆器规则库
func BuiltinRules() []Rule {
	return []Rule{
		// ==================== 商业混淆器 (水印明显) ====================
		{
			Name:       "Allatori",
			Type:       TypeCommercial,
			Markers:    []string{"allatori"},
			Strings:    []string{"ALLATORIxDEMO", "Obfuscation by Allatori"},
			ClassNames: []string{"com/allatori/"},
			Priority:   100,
		},
		{
			Name:       "Zelix KlassMaster",
			Type:       TypeCommercial,
			Markers:    []string{"zkm"},
			Strings:    []string{"ZKM", "zelix"},
			ClassNames: []string{"com/zelix/"},
			Priority:   100,
		},
		{
			Name:       "Stringer",
			Type:       TypeStringEnc,
			Markers:    []string{"stringer"},
			Strings:    []string{"Stringer Java Obfuscator", "licel"},
			ClassNames: []string{"com/licel/stringer/"},
			Priority:   95,
		},
		{
			Name:     "Branchlock",
			Type:     TypeFlow,
			Markers:  []string{"branchlock"},
			Strings:  []string{"Branchlock", "branchlock.net"},
			Unicode:  true,
			Priority: 95,
		},
		{
			Name:     "Paramorphism",
			Type:     TypeFlow,
			Markers:  []string{"paramorphism"},
			Strings:  []string{"Paramorphism"},
			Unicode:  true,
			Priority: 90,
		},
		{
			Name:       "Skidfuscator",
			Type:       TypeFlow,
			Markers:    []string{"skidfuscator"},
			Strings:    []string{"skidfuscator", "Skidfuscator"},
			ClassNames: []string{"skid/"},
			Priority:   90,
		},
		// ==================== 开源混淆器 ====================
		{
			Name:     "Radon",
			Type:     TypeStringEnc,
			Markers:  []string{"radon"},
			Strings:  []string{"Radon", "ItzSomebody"},
			Priority: 80,
		},
		{
			Name:     "Caesium",
			Type:     TypeStringEnc,
			Markers:  []string{"caesium"},
			Strings:  []string{"Caesium"},
			Priority: 80,
		},
		{
			Name:     "Bozar",
			Type:     TypeFlow,
			Markers:  []string{"bozar"},
			Strings:  []string{"BOZAR", "bozar"},
			Unicode:  true,
			Priority: 80,
		},
		// ==================== 名称混淆 (启发式, 低优先级) ====================
		{
			Name:     "ProGuard",
			Type:     TypeRenamer,
			Markers:  []string{"META-INF/proguard/"},
			Renaming: true,
			Priority: 10,
		},
	}
}
