package dataset

import (
	"fmt"
	"net/url"

	"charmap/api/internal/util"
)

const seedImageCount = 50

type seedCharacter struct {
	name  string
	notes string
	// tags are [category, tag] index pairs into seedCategories.
	tags [][2]int
}

type seedCategory struct {
	name   string
	color  string
	mode   string
	labels []string
}

var seedCategories = []seedCategory{
	{"陣營", "#ef4444", SelectionSingle, []string{"主角群", "敵對勢力", "中立"}},
	{"職業", "#3b82f6", SelectionSingle, []string{"戰士", "法師", "弓箭手", "鐵匠", "刺客", "祭司"}},
	{"物種", "#10b981", SelectionSingle, []string{"人類", "精靈", "矮人", "龍", "魔物"}},
	{"外貌", "#8b5cf6", SelectionMultiple, []string{"金色頭髮", "黑色頭髮", "銀色頭髮", "紅色眼睛", "盔甲", "法袍", "弓箭"}},
}

var seedCharacters = []seedCharacter{
	{"艾莉亞", "主角，勇敢的年輕戰士。", [][2]int{{0, 0}, {1, 0}, {2, 0}, {3, 2}, {3, 4}}},
	{"雷文", "神秘的法師，艾莉亞的導師。", [][2]int{{0, 0}, {1, 1}, {2, 0}, {3, 1}, {3, 5}}},
	{"凱隆", "敵國的將軍，主要的對手。", [][2]int{{0, 1}, {1, 0}, {2, 0}, {3, 1}, {3, 3}, {3, 4}}},
	{"莉娜", "精靈族的弓箭手，艾莉亞的盟友。", [][2]int{{0, 0}, {1, 2}, {2, 1}, {3, 0}, {3, 6}}},
	{"葛雷", "矮人族的鐵匠，為主角打造武器。", [][2]int{{0, 2}, {1, 3}, {2, 2}}},
	{"魔龍王", "古老的邪惡存在，最終 Boss。", [][2]int{{0, 1}, {2, 3}}},
	{"芬里爾", "雷文的使魔，一頭巨大的狼。", [][2]int{{0, 0}, {2, 4}}},
	{"伊索德", "凱隆的副官，對其忠心耿耿。", [][2]int{{0, 1}, {1, 0}, {2, 0}}},
	{"索林", "葛雷的兒子，年輕的發明家。", [][2]int{{0, 2}, {2, 2}}},
	{"希爾維婭", "莉娜的姊姊，精靈女王。", [][2]int{{0, 0}, {2, 1}, {3, 0}}},
	{"暗影刺客", "受僱於凱隆的神秘刺客。", [][2]int{{0, 1}, {1, 4}, {2, 4}}},
	{"光之祭司", "提供治癒與支援的聖職者。", [][2]int{{0, 0}, {1, 5}, {2, 0}, {3, 5}}},
}

var seedRelationships = []struct {
	source, target int
	label, arrow   string
}{
	{1, 0, "師徒", ArrowStyleArrow},
	{0, 2, "宿敵", ArrowStyleArrow},
	{0, 3, "盟友", ArrowStyleNone},
	{3, 0, "盟友", ArrowStyleNone},
	{4, 0, "協助", ArrowStyleArrow},
	{2, 5, "服從", ArrowStyleArrow},
	{1, 6, "主人", ArrowStyleArrow},
	{7, 2, "效忠", ArrowStyleArrow},
	{8, 4, "父子", ArrowStyleArrow},
	{4, 8, "父子", ArrowStyleArrow},
	{9, 3, "姊妹", ArrowStyleNone},
	{3, 9, "姊妹", ArrowStyleNone},
	{2, 10, "僱傭", ArrowStyleArrow},
	{11, 0, "守護", ArrowStyleArrow},
}

// Seed returns the small default world used when the project dataset cannot
// be loaded. Ids are derived from names so repeated calls are identical.
func Seed() Dataset {
	categories := make([]TagCategory, len(seedCategories))
	for i, sc := range seedCategories {
		catID := util.StableID("category", sc.name)
		tags := make([]Tag, len(sc.labels))
		for j, label := range sc.labels {
			tags[j] = Tag{ID: util.StableID("tag", sc.name+"/"+label), Label: label}
		}
		categories[i] = TagCategory{ID: catID, Name: sc.name, Color: sc.color, Tags: tags, SelectionMode: sc.mode}
	}

	characters := make([]Character, len(seedCharacters))
	for i, sc := range seedCharacters {
		tagIDs := make([]string, len(sc.tags))
		for j, ref := range sc.tags {
			tagIDs[j] = categories[ref[0]].Tags[ref[1]].ID
		}
		characters[i] = Character{
			ID:     util.StableID("character", sc.name),
			Name:   sc.name,
			Notes:  sc.notes,
			TagIDs: tagIDs,
		}
	}

	relationships := make([]Relationship, len(seedRelationships))
	for i, sr := range seedRelationships {
		relationships[i] = Relationship{
			ID:         util.StableID("relationship", fmt.Sprintf("%d", i)),
			Source:     characters[sr.source].ID,
			Target:     characters[sr.target].ID,
			Label:      sr.label,
			ArrowStyle: sr.arrow,
		}
	}

	images := make([]CharacterImage, seedImageCount)
	for i := range images {
		char := characters[i%len(characters)]
		// Pick between one and three of the character's tags, rotating by
		// image index.
		count := i%3 + 1
		if count > len(char.TagIDs) {
			count = len(char.TagIDs)
		}
		tagIDs := make([]string, 0, count)
		for j := 0; j < count; j++ {
			tagIDs = append(tagIDs, char.TagIDs[(i+j)%len(char.TagIDs)])
		}
		images[i] = CharacterImage{
			ID:           util.StableID("image", fmt.Sprintf("%d", i)),
			CharacterID:  char.ID,
			ImageDataURL: "https://api.dicebear.com/7.x/pixel-art/svg?seed=" + url.QueryEscape(fmt.Sprintf("%s%d", char.Name, i)),
			TagIDs:       tagIDs,
			Notes:        fmt.Sprintf("這是 %s 的第 %d 張圖片。", char.Name, i/len(characters)+1),
		}
	}

	return Dataset{
		Characters:      characters,
		Relationships:   relationships,
		TagCategories:   categories,
		CharacterImages: images,
	}
}
