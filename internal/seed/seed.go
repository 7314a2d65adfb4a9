// Package seed 提供演示系列数据，bootstrap 与测试共用
package seed

import (
	"context"
	"fmt"

	"z-novel-canon-api/internal/application/canon"
	"z-novel-canon-api/internal/application/continuity"
	"z-novel-canon-api/internal/application/statestore"
	"z-novel-canon-api/internal/domain/entity"
	"z-novel-canon-api/internal/infrastructure/persistence/memory"
)

// 演示系列使用的属性键
const (
	AttrHometown         = "hometown"
	AttrMissingRightHand = "missing_right_hand"
	AttrUsesMagic        = "uses_magic"
)

// Fixture 演示系列 "The Ashen Crown" 的实体 ID
type Fixture struct {
	SeriesID string
	KaelID   string
	MiraID   string
	// VarosID 与 MeridiaID 为城市，GuardID 为隶属 Varos 的势力
	VarosID   string
	MeridiaID string
	GuardID   string
	// AvoidMagicRuleID 软规则 "Kael avoids magic"
	AvoidMagicRuleID string
	ArcID            string
}

// NewMemoryService 基于内存存储创建服务，不带缓存与通知
func NewMemoryService(opts canon.Options) *canon.Service {
	return canon.NewService(memory.NewStore().Repositories(), opts, nil, nil)
}

// AshenCrown 写入演示系列：
// Kael 出生于 Varos，第一卷第三章永久失去右手；Mira 同样来自 Varos，与 Kael 为盟友；
// Kael 受软规则约束，不使用魔法。
func AshenCrown(ctx context.Context, svc *canon.Service) (*Fixture, error) {
	fx := &Fixture{}

	series, err := svc.CreateSeries(ctx, entity.NewSeries("The Ashen Crown", "fantasy", 5, entity.SeriesConfig{
		Tone:   "grim",
		Pacing: "slow-burn",
	}))
	if err != nil {
		return nil, fmt.Errorf("create series: %w", err)
	}
	fx.SeriesID = series.ID

	varos, err := svc.CreateWorldElement(ctx,
		entity.NewWorldElement(fx.SeriesID, "Varos", entity.WorldLocation, "", entity.NewLocator(1, 1)),
		statestore.Establish{Attributes: entity.AttributeMap{"climate": "arid"}, Significance: 6})
	if err != nil {
		return nil, fmt.Errorf("create Varos: %w", err)
	}
	fx.VarosID = varos.ID

	meridia, err := svc.CreateWorldElement(ctx,
		entity.NewWorldElement(fx.SeriesID, "Meridia", entity.WorldLocation, "", entity.NewLocator(1, 1)),
		statestore.Establish{Attributes: entity.AttributeMap{"climate": "coastal"}, Significance: 4})
	if err != nil {
		return nil, fmt.Errorf("create Meridia: %w", err)
	}
	fx.MeridiaID = meridia.ID

	guard, err := svc.CreateWorldElement(ctx,
		entity.NewWorldElement(fx.SeriesID, "Varos City Guard", entity.WorldFaction, fx.VarosID, entity.NewLocator(1, 2)),
		statestore.Establish{Attributes: entity.AttributeMap{"allegiance": "crown"}, Significance: 3})
	if err != nil {
		return nil, fmt.Errorf("create guard: %w", err)
	}
	fx.GuardID = guard.ID

	kael, err := svc.CreateCharacter(ctx,
		entity.NewCharacter(fx.SeriesID, "Kael", entity.RoleProtagonist, entity.NewLocator(1, 1)),
		statestore.Establish{
			Attributes:   entity.AttributeMap{AttrHometown: "Varos", entity.AttrTraits: "stubborn, loyal"},
			Significance: 8,
			References:   []string{fx.VarosID},
		})
	if err != nil {
		return nil, fmt.Errorf("create Kael: %w", err)
	}
	fx.KaelID = kael.ID

	mira, err := svc.CreateCharacter(ctx,
		entity.NewCharacter(fx.SeriesID, "Mira", entity.RoleSupporting, entity.NewLocator(1, 2)),
		statestore.Establish{
			Attributes:   entity.AttributeMap{AttrHometown: "Varos", entity.AttrDialogueStyle: "dry"},
			Significance: 5,
			References:   []string{fx.VarosID, fx.GuardID},
		})
	if err != nil {
		return nil, fmt.Errorf("create Mira: %w", err)
	}
	fx.MiraID = mira.ID

	// 第一卷第三章：Kael 永久失去右手，属性被锁定
	if _, err := commit(ctx, svc, fx.SeriesID, entity.NewLocator(1, 3), entity.Fact{
		Kind: entity.FactEvent,
		Event: &entity.EventFact{
			SubjectID:    fx.KaelID,
			Kind:         entity.EventPhysical,
			NewState:     entity.AttributeMap{AttrMissingRightHand: "true"},
			Permanent:    true,
			Significance: 9,
			LockKeys:     []string{AttrMissingRightHand},
			References:   []string{fx.VarosID},
			Summary:      "Kael loses his right hand at the gates of Varos",
		},
	}, entity.Fact{
		Kind: entity.FactRelationship,
		Relationship: &entity.RelationshipChange{
			CharacterA:    fx.KaelID,
			CharacterB:    fx.MiraID,
			Type:          entity.RelationAlly,
			Intensity:     7,
			TensionPoints: []string{"Mira blames herself for the ambush"},
			Significance:  6,
		},
	}); err != nil {
		return nil, fmt.Errorf("commit book 1 chapter 3: %w", err)
	}

	// 第二卷第四章：Mira 返回 Varos
	if _, err := commit(ctx, svc, fx.SeriesID, entity.NewLocator(2, 4), entity.Fact{
		Kind: entity.FactEvent,
		Event: &entity.EventFact{
			SubjectID:    fx.MiraID,
			Kind:         entity.EventStatus,
			NewState:     entity.AttributeMap{"location": "Varos"},
			Permanent:    true,
			Significance: 4,
			References:   []string{fx.VarosID, fx.KaelID},
			Summary:      "Mira returns to Varos to recruit the guard",
		},
	}); err != nil {
		return nil, fmt.Errorf("commit book 2 chapter 4: %w", err)
	}

	expected := "false"
	fx.AvoidMagicRuleID, err = svc.DefineCanonRule(ctx, fx.SeriesID, entity.RuleScope{
		Kind:         entity.ScopeAttribute,
		EntityID:     fx.KaelID,
		AttributeKey: AttrUsesMagic,
	}, entity.LockSoft, &entity.CanonRule{
		ExpectedValue: &expected,
		Description:   "Kael avoids magic",
		CreatedBy:     "seed",
	})
	if err != nil {
		return nil, fmt.Errorf("define soft rule: %w", err)
	}

	target := entity.NewLocator(3, 10)
	arc, err := svc.CreateArc(ctx, entity.NewNarrativeArc(fx.SeriesID, "Return to Varos",
		[]string{fx.KaelID, fx.MiraID, fx.VarosID},
		entity.Milestones{{Title: "Kael confronts the guard", Target: &target}}))
	if err != nil {
		return nil, fmt.Errorf("create arc: %w", err)
	}
	fx.ArcID = arc.ID

	return fx, nil
}

func commit(ctx context.Context, svc *canon.Service, seriesID string, at entity.Locator, facts ...entity.Fact) (*continuity.CommitResult, error) {
	res, err := svc.CommitFacts(ctx, &continuity.Request{
		SeriesID: seriesID,
		Locator:  at,
		Facts:    facts,
		Origin:   entity.OriginAuthor,
		Actor:    "seed",
	})
	if err != nil {
		return nil, err
	}
	if res.Blocked {
		return nil, fmt.Errorf("seed facts blocked at %s: %d violations", at, len(res.Violations))
	}
	return res, nil
}
