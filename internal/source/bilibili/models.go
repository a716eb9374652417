package bilibili

// DynamicKind discriminates the post types the polymer dynamics API
// returns. Unknown values are kept verbatim and rendered by the fallback
// branch of the renderer.
type DynamicKind string

const (
	DynamicVideo   DynamicKind = "DYNAMIC_TYPE_AV"
	DynamicDraw    DynamicKind = "DYNAMIC_TYPE_DRAW"
	DynamicWord    DynamicKind = "DYNAMIC_TYPE_WORD"
	DynamicForward DynamicKind = "DYNAMIC_TYPE_FORWARD"
	DynamicArticle DynamicKind = "DYNAMIC_TYPE_ARTICLE"
	DynamicLive    DynamicKind = "DYNAMIC_TYPE_LIVE_RCMD"
)

// DynamicItem is one entry of a creator's dynamics feed, newest first as
// returned by the API. IDStr is the idempotency key the sequence baseline
// is built on.
type DynamicItem struct {
	IDStr   string  `json:"id_str"`
	Type    string  `json:"type"`
	Modules Modules `json:"modules"`
}

func (d DynamicItem) Kind() DynamicKind { return DynamicKind(d.Type) }

// URL is the canonical web link for the dynamic.
func (d DynamicItem) URL() string {
	return "https://t.bilibili.com/" + d.IDStr
}

type Modules struct {
	Author  ModuleAuthor  `json:"module_author"`
	Dynamic ModuleDynamic `json:"module_dynamic"`
}

type ModuleAuthor struct {
	Mid       int64  `json:"mid"`
	Name      string `json:"name"`
	Face      string `json:"face"`
	PubAction string `json:"pub_action"` // e.g. "posted a video"
	PubTime   string `json:"pub_time"`   // relative text, e.g. "2 hours ago"
	PubTS     int64  `json:"pub_ts"`
}

type ModuleDynamic struct {
	Desc  *DynamicDesc  `json:"desc"`
	Major *DynamicMajor `json:"major"`
}

type DynamicDesc struct {
	Text string `json:"text"`
}

type DynamicMajor struct {
	Type    string               `json:"type"`
	Archive *DynamicArchive      `json:"archive"`
	Draw    *DrawMajor           `json:"draw"`
	Opus    *DynamicOpus         `json:"opus"`
	Article *DynamicArticleMajor `json:"article"`
}

type ArchiveStat struct {
	Play    string `json:"play"`
	Danmaku string `json:"danmaku"`
}

type DynamicArchive struct {
	Aid          string      `json:"aid"`
	Bvid         string      `json:"bvid"`
	Title        string      `json:"title"`
	Desc         string      `json:"desc"`
	Cover        string      `json:"cover"`
	DurationText string      `json:"duration_text"`
	JumpURL      string      `json:"jump_url"`
	Stat         ArchiveStat `json:"stat"`
}

func (a DynamicArchive) URL() string {
	if a.Bvid != "" {
		return "https://www.bilibili.com/video/" + a.Bvid
	}
	return a.JumpURL
}

type DrawItem struct {
	Src string `json:"src"`
}

type DrawMajor struct {
	Items []DrawItem `json:"items"`
}

type OpusPic struct {
	URL string `json:"url"`
}

type OpusSummary struct {
	Text string `json:"text"`
}

type DynamicOpus struct {
	Title   string      `json:"title"`
	Summary OpusSummary `json:"summary"`
	Pics    []OpusPic   `json:"pics"`
}

type DynamicArticleMajor struct {
	Title   string   `json:"title"`
	Desc    string   `json:"desc"`
	Covers  []string `json:"covers"`
	JumpURL string   `json:"jump_url"`
}

// LiveRoom is a creator's live-broadcast room as returned by the batch
// status API. LiveStatus 1 means live (0 idle, 2 looping reruns).
type LiveRoom struct {
	Title          string `json:"title"`
	RoomID         int64  `json:"room_id"`
	UID            int64  `json:"uid"`
	Online         int64  `json:"online"`
	LiveTime       int64  `json:"live_time"`
	LiveStatus     int    `json:"live_status"`
	UName          string `json:"uname"`
	Face           string `json:"face"`
	CoverFromUser  string `json:"cover_from_user"`
	Keyframe       string `json:"keyframe"`
	AreaName       string `json:"area_v2_name"`
	AreaParentName string `json:"area_v2_parent_name"`
}

func (r LiveRoom) IsLiving() bool { return r.LiveStatus == 1 }

func (r LiveRoom) URL() string {
	return "https://live.bilibili.com/" + itoa(r.RoomID)
}

// Cover prefers the latest keyframe over the static room cover.
func (r LiveRoom) Cover() string {
	if r.Keyframe != "" {
		return r.Keyframe
	}
	return r.CoverFromUser
}
